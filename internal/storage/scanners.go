package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/shaker/internal/domain"
)

// Timestamps are stored as RFC3339 text with nanoseconds, always UTC

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}

// Null helpers

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a users row, returning its token and record
func scanUser(s scanner) (string, *domain.UserRecord, error) {
	var token string
	var u domain.UserRecord
	var blockedBy, blockEndsAt, nextBlock sql.NullString
	err := s.Scan(&token, &u.Name, &u.Score, &u.PerAction, &u.PassiveUnits, &u.ActionCount,
		&u.IsAdmin, &u.IsBlocked, &blockedBy, &blockEndsAt, &nextBlock, &u.Seq)
	if err != nil {
		return "", nil, err
	}
	u.BlockedBy = scanNullStringValue(blockedBy)
	if u.BlockEndsAt, err = scanNullTimestamp(blockEndsAt); err != nil {
		return "", nil, err
	}
	if u.NextBlockAvailableAt, err = scanNullTimestamp(nextBlock); err != nil {
		return "", nil, err
	}
	return token, &u, nil
}
