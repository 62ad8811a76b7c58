package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ernie/shaker/internal/domain"
)

func TestAdmitUnknownToken(t *testing.T) {
	s, _, _ := newTestState(t)
	_, err := s.Admit("nope")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Admit(unknown) err = %v, want ErrInvalidToken", err)
	}
	if RejectionMessage(err) != "Invalid game token" {
		t.Errorf("RejectionMessage = %q", RejectionMessage(err))
	}
}

func TestAdmitExclusive(t *testing.T) {
	s, rec, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	rec.reset()

	first := mustAdmit(t, s, tok)
	if !mustGet(t, s, tok).IsLive {
		t.Fatal("record not live after admission")
	}
	if len(rec.broadcastsOfType(domain.EventLeaderboard)) != 1 {
		t.Error("admission should broadcast one leaderboard refresh")
	}

	_, err := s.Admit(tok)
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Admit err = %v, want ErrAlreadyConnected", err)
	}
	if RejectionMessage(err) != "You are already logged in on another device." {
		t.Errorf("RejectionMessage = %q", RejectionMessage(err))
	}

	first.Close()
	if mustGet(t, s, tok).IsLive {
		t.Fatal("record still live after Close")
	}
	second := mustAdmit(t, s, tok)
	if second.ID == first.ID {
		t.Error("session ids should be unique per admission")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	sess := mustAdmit(t, s, tok)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Close()
		}()
	}
	wg.Wait()

	if s.LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0", s.LiveCount())
	}
	if s.MarkOffline(tok, sess.ID) {
		t.Error("MarkOffline after Close should report no change")
	}
}

func TestStaleMarkOfflineIgnored(t *testing.T) {
	s, _, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	old := mustAdmit(t, s, tok)
	old.Close()
	current := mustAdmit(t, s, tok)

	if s.MarkOffline(tok, old.ID) {
		t.Error("stale session id flipped the live flag")
	}
	if !mustGet(t, s, tok).IsLive {
		t.Error("current session lost its live flag")
	}
	current.Close()
	if mustGet(t, s, tok).IsLive {
		t.Error("record live after current session closed")
	}
}

func TestResumeSendsInitialState(t *testing.T) {
	s, rec, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	player := mustCreate(t, s, "alice", false)
	if err := s.AdminCreateEvent(admin, domain.EventInput{
		Title:      "Rush",
		EndsAt:     clk.Now().Add(time.Hour).Format(time.RFC3339),
		Multiplier: 2,
	}); err != nil {
		t.Fatalf("AdminCreateEvent: %v", err)
	}
	rec.reset()

	as := mustAdmit(t, s, admin)
	s.Resume(as)
	ps := mustAdmit(t, s, player)
	s.Resume(ps)

	if len(rec.sentOfType(player, domain.EventUserData)) != 1 {
		t.Error("player should receive user_data")
	}
	if len(rec.sentOfType(player, domain.EventEventUpdate)) != 1 {
		t.Error("player should receive the active event")
	}
	if len(rec.sentOfType(player, domain.EventAuditLogHistory)) != 0 {
		t.Error("non-admin received audit history")
	}
	hist := rec.sentOfType(admin, domain.EventAuditLogHistory)
	if len(hist) != 1 {
		t.Fatalf("admin received %d audit histories, want 1", len(hist))
	}
	var entries []domain.AuditEntry
	decode(t, hist[0], &entries)
	if len(entries) == 0 {
		t.Error("audit history is empty")
	}
}

func TestResumeClearsLapsedBlock(t *testing.T) {
	s, rec, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	player := mustCreate(t, s, "alice", false)
	if err := s.AdminBlockUser(admin, "alice"); err != nil {
		t.Fatalf("AdminBlockUser: %v", err)
	}
	clk.Advance(2 * time.Minute)
	rec.reset()

	sess := mustAdmit(t, s, player)
	s.Resume(sess)

	if mustGet(t, s, player).IsBlocked {
		t.Fatal("lapsed block not cleared at resume")
	}
	if len(rec.sentOfType(player, domain.EventUserUnblocked)) != 1 {
		t.Error("session should be told about the unblock")
	}
	var u domain.UserRecord
	data := rec.sentOfType(player, domain.EventUserData)
	decode(t, data[len(data)-1], &u)
	if u.IsBlocked {
		t.Error("user_data still shows the block")
	}
}
