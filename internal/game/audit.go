package game

import (
	"time"

	"github.com/ernie/shaker/internal/domain"
)

// AuditLog is a fixed-size ring of the most recent audit entries.
// It is not safe for concurrent use; State serializes access.
type AuditLog struct {
	buf  []domain.AuditEntry
	head int // index of the newest entry
	size int
}

// NewAuditLog creates a log holding at most capacity entries
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &AuditLog{buf: make([]domain.AuditEntry, capacity), head: -1}
}

// Add inserts an entry at the front, evicting the oldest when full
func (a *AuditLog) Add(ts time.Time, actor, message string) domain.AuditEntry {
	e := domain.AuditEntry{Timestamp: ts, Actor: actor, Message: message}
	a.head = (a.head + 1) % len(a.buf)
	a.buf[a.head] = e
	if a.size < len(a.buf) {
		a.size++
	}
	return e
}

// Entries returns a copy of the log, newest first
func (a *AuditLog) Entries() []domain.AuditEntry {
	out := make([]domain.AuditEntry, 0, a.size)
	for i := 0; i < a.size; i++ {
		idx := (a.head - i + len(a.buf)) % len(a.buf)
		out = append(out, a.buf[idx])
	}
	return out
}

// Len returns the number of stored entries
func (a *AuditLog) Len() int {
	return a.size
}
