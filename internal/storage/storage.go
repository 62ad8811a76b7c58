// Package storage persists game state snapshots. The backend is chosen from
// the path suffix: .db/.sqlite select SQLite, .zst selects zstd-compressed
// JSON, anything else is plain JSON.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/ernie/shaker/internal/domain"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshotter reads and writes whole-state snapshots. Save must leave the
// previous snapshot intact when it fails.
type Snapshotter interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Save(ctx context.Context, snap domain.Snapshot) error
	Close() error
}

// Open returns the backend for path
func Open(path string) (Snapshotter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLite(path)
	case ".zst":
		return NewFile(path, true)
	default:
		return NewFile(path, false)
	}
}

func emptySnapshot(snap *domain.Snapshot) {
	if snap.Users == nil {
		snap.Users = make(map[string]*domain.UserRecord)
	}
}
