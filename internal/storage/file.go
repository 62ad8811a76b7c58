package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ernie/shaker/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// FileStore keeps the snapshot in a single JSON file, optionally zstd-compressed
type FileStore struct {
	path     string
	compress bool
	mu       sync.Mutex // one writer at a time
}

// NewFile creates a file-backed store, creating the parent directory if needed
func NewFile(path string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileStore{path: path, compress: compress}, nil
}

// Load reads the snapshot. A missing file yields ErrNoSnapshot.
func (f *FileStore) Load(ctx context.Context) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var snap domain.Snapshot
	content, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, fmt.Errorf("reading snapshot: %w", err)
	}

	if f.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return snap, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		if content, err = dec.DecodeAll(content, nil); err != nil {
			return snap, fmt.Errorf("decompressing snapshot: %w", err)
		}
	}

	if err := json.Unmarshal(content, &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	emptySnapshot(&snap)
	return snap, nil
}

// Save writes the snapshot to a temporary file and renames it into place,
// so a failed write never replaces the previous copy.
func (f *FileStore) Save(ctx context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if f.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		content = enc.EncodeAll(content, nil)
		enc.Close()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for file stores
func (f *FileStore) Close() error {
	return nil
}
