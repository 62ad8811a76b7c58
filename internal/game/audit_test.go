package game

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAuditLogRing(t *testing.T) {
	log := NewAuditLog(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		log.Add(base.Add(time.Duration(i)*time.Second), "SYSTEM", fmt.Sprintf("entry %d", i))
	}

	if log.Len() != 3 {
		t.Fatalf("Len = %d, want 3", log.Len())
	}
	entries := log.Entries()
	want := []string{"entry 5", "entry 4", "entry 3"}
	for i, msg := range want {
		if entries[i].Message != msg {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Message, msg)
		}
	}
}

func TestAuditLogEmpty(t *testing.T) {
	log := NewAuditLog(0)
	if log.Len() != 0 || len(log.Entries()) != 0 {
		t.Error("new log should be empty")
	}
	log.Add(time.Now(), "a", "b")
	if log.Len() != 1 {
		t.Errorf("Len = %d, want 1", log.Len())
	}
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		tok, err := generateToken(8)
		if err != nil {
			t.Fatalf("generateToken: %v", err)
		}
		if len(tok) != 8 {
			t.Fatalf("token %q has length %d", tok, len(tok))
		}
		if !strings.ContainsRune(consonants, rune(tok[0])) {
			t.Errorf("token %q does not start with a consonant", tok)
		}
		for _, r := range tok {
			if !strings.ContainsRune(consonants+vowels, r) {
				t.Errorf("token %q has unexpected rune %q", tok, r)
			}
		}
		seen[tok] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct tokens out of 200", len(seen))
	}
}

func TestCreateUserTokenLength(t *testing.T) {
	s, _, _ := newTestState(t, WithTokenLength(12))
	tok := mustCreate(t, s, "alice", false)
	if len(tok) != 12 {
		t.Errorf("token length = %d, want 12", len(tok))
	}
}

func TestAuditSizeOption(t *testing.T) {
	s, _, _ := newTestState(t, WithAuditSize(2))
	for _, name := range []string{"a", "b", "c"} {
		mustCreate(t, s, name, false)
	}
	entries := s.AuditEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !strings.HasSuffix(entries[0].Message, " c") {
		t.Errorf("newest entry = %q", entries[0].Message)
	}
}
