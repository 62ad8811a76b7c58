package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/ernie/shaker/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLiteStore keeps the snapshot in a SQLite database. Each Save replaces
// every table inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the last saved snapshot. A database that was never saved to
// yields ErrNoSnapshot.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Users: make(map[string]*domain.UserRecord)}

	var savedAt string
	err := s.db.QueryRowContext(ctx, "SELECT saved_at FROM snapshot_meta WHERE id = 1").Scan(&savedAt)
	if err == sql.ErrNoRows {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	if snap.SavedAt, err = parseTimestamp(savedAt); err != nil {
		return snap, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token, name, score, per_action, passive_units, action_count,
			is_admin, is_blocked, blocked_by, block_ends_at, next_block_available_at, seq
		FROM users ORDER BY seq
	`)
	if err != nil {
		return snap, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		token, u, err := scanUser(rows)
		if err != nil {
			return snap, fmt.Errorf("scanning user: %w", err)
		}
		snap.Users[token] = u
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	var ev domain.GlobalEvent
	var endsAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT title, description, ends_at, multiplier FROM global_event WHERE id = 1
	`).Scan(&ev.Title, &ev.Description, &endsAt, &ev.Multiplier)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return snap, fmt.Errorf("reading event: %w", err)
	default:
		if ev.EndsAt, err = parseTimestamp(endsAt); err != nil {
			return snap, err
		}
		snap.Event = &ev
	}

	var bs domain.BlockSettings
	err = s.db.QueryRowContext(ctx, `
		SELECT block_duration_minutes, cooldown_duration_minutes FROM block_settings WHERE id = 1
	`).Scan(&bs.BlockDurationMinutes, &bs.CooldownDurationMinutes)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return snap, fmt.Errorf("reading block settings: %w", err)
	default:
		snap.BlockSettings = &bs
	}

	return snap, nil
}

// Save replaces the stored snapshot atomically
func (s *SQLiteStore) Save(ctx context.Context, snap domain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"users", "global_event", "block_settings", "snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (token, name, score, per_action, passive_units, action_count,
			is_admin, is_blocked, blocked_by, block_ends_at, next_block_available_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing user insert: %w", err)
	}
	defer stmt.Close()

	for token, u := range snap.Users {
		if u == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, token, u.Name, u.Score, u.PerAction, u.PassiveUnits, u.ActionCount,
			u.IsAdmin, u.IsBlocked, nullString(u.BlockedBy), nullTimestamp(u.BlockEndsAt),
			nullTimestamp(u.NextBlockAvailableAt), u.Seq); err != nil {
			return fmt.Errorf("inserting user %s: %w", u.Name, err)
		}
	}

	if ev := snap.Event; ev != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_event (id, title, description, ends_at, multiplier) VALUES (1, ?, ?, ?, ?)
		`, ev.Title, ev.Description, formatTimestamp(ev.EndsAt), ev.Multiplier); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if bs := snap.BlockSettings; bs != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO block_settings (id, block_duration_minutes, cooldown_duration_minutes) VALUES (1, ?, ?)
		`, bs.BlockDurationMinutes, bs.CooldownDurationMinutes); err != nil {
			return fmt.Errorf("inserting block settings: %w", err)
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO snapshot_meta (id, saved_at) VALUES (1, ?)",
		formatTimestamp(savedAt)); err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}

	return tx.Commit()
}
