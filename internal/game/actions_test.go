package game

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ernie/shaker/internal/domain"
)

func TestPerformAction(t *testing.T) {
	s, rec, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	mustAdmit(t, s, tok)
	rec.reset()

	for i := 0; i < 3; i++ {
		if err := s.PerformAction(tok); err != nil {
			t.Fatalf("PerformAction: %v", err)
		}
	}
	u := mustGet(t, s, tok)
	if u.Score != 3 || u.ActionCount != 3 {
		t.Errorf("score=%v actions=%d, want 3/3", u.Score, u.ActionCount)
	}

	counts := rec.sentOfType(tok, domain.EventCount)
	if len(counts) != 3 {
		t.Fatalf("got %d count messages, want 3", len(counts))
	}
	var last float64
	decode(t, counts[2], &last)
	if last != 3 {
		t.Errorf("last count = %v, want 3", last)
	}
	if len(rec.broadcasts) != 0 {
		t.Error("actions should not broadcast")
	}
}

func TestPerformActionUsesMultiplier(t *testing.T) {
	s, _, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	tok := mustCreate(t, s, "alice", false)
	if err := s.AdminCreateEvent(admin, domain.EventInput{
		Title:      "Boost",
		EndsAt:     clk.Now().Add(10 * time.Minute).Format(time.RFC3339),
		Multiplier: 2.5,
	}); err != nil {
		t.Fatalf("AdminCreateEvent: %v", err)
	}

	if err := s.PerformAction(tok); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if got := mustGet(t, s, tok).Score; got != 2.5 {
		t.Errorf("score = %v, want 2.5", got)
	}

	clk.Advance(10 * time.Minute)
	if err := s.PerformAction(tok); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if got := mustGet(t, s, tok).Score; got != 3.5 {
		t.Errorf("score after event end = %v, want 3.5", got)
	}
}

func TestPerformActionUnknownToken(t *testing.T) {
	s, _, _ := newTestState(t)
	if err := s.PerformAction("ghost"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestUpgradePerAction(t *testing.T) {
	s, rec, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	mustAdmit(t, s, tok)

	// p=1: ceil(1*0*5000+800) = 800
	setScore(t, s, tok, 799)
	drainPersist(s)
	if err := s.UpgradePerAction(tok); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	u := mustGet(t, s, tok)
	if u.Score != 799 || u.PerAction != 1 {
		t.Errorf("failed upgrade changed state: %+v", u)
	}
	if persistRequested(s) {
		t.Error("failed upgrade requested persistence")
	}

	setScore(t, s, tok, 800)
	rec.reset()
	if err := s.UpgradePerAction(tok); err != nil {
		t.Fatalf("UpgradePerAction: %v", err)
	}
	u = mustGet(t, s, tok)
	if u.Score != 0 || u.PerAction != 2 {
		t.Errorf("after upgrade score=%v perAction=%d, want 0/2", u.Score, u.PerAction)
	}
	if len(rec.sentOfType(tok, domain.EventUserData)) != 1 {
		t.Error("upgrade should push user_data")
	}
	if len(rec.broadcastsOfType(domain.EventLeaderboard)) != 1 {
		t.Error("upgrade should refresh the leaderboard")
	}
	if !persistRequested(s) {
		t.Error("upgrade did not request persistence")
	}

	// p=2: ceil(2*1*5000+800) = 10800
	setScore(t, s, tok, 10800)
	if err := s.UpgradePerAction(tok); err != nil {
		t.Fatalf("second UpgradePerAction: %v", err)
	}
	if u := mustGet(t, s, tok); u.PerAction != 4 || u.Score != 0 {
		t.Errorf("after second upgrade %+v", u)
	}
}

func TestUpgradePassive(t *testing.T) {
	s, _, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)

	// n=0: ceil(1*0*6000+1500) = 1500
	setScore(t, s, tok, 1500)
	if err := s.UpgradePassive(tok); err != nil {
		t.Fatalf("UpgradePassive: %v", err)
	}
	u := mustGet(t, s, tok)
	if u.PassiveUnits != 1 || u.Score != 0 {
		t.Errorf("after upgrade %+v", u)
	}

	// n=1: ceil(2*1*6000+1500) = 13500
	setScore(t, s, tok, 13499)
	if err := s.UpgradePassive(tok); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestFailedUpgradeIsAudited(t *testing.T) {
	s, _, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	if err := s.UpgradePassive(tok); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
	entries := s.AuditEntries()
	if entries[0].Actor != "alice" || !strings.Contains(entries[0].Message, "insufficient funds") {
		t.Errorf("newest audit entry = %+v", entries[0])
	}
}

func TestBlockScenario(t *testing.T) {
	s, rec, clk := newTestState(t)
	a := mustCreate(t, s, "A", false)
	b := mustCreate(t, s, "B", false)
	c := mustCreate(t, s, "C", false)
	mustAdmit(t, s, a)
	mustAdmit(t, s, b)
	rec.reset()

	if err := s.BlockUser(a, "B"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	ub := mustGet(t, s, b)
	if !ub.IsBlocked || ub.BlockedBy != "A" {
		t.Fatalf("B not blocked by A: %+v", ub)
	}
	if want := clk.Now().Add(time.Minute); !ub.BlockEndsAt.Equal(want) {
		t.Errorf("blockEndsAt = %v, want %v", ub.BlockEndsAt, want)
	}
	ua := mustGet(t, s, a)
	if want := clk.Now().Add(5 * time.Minute); ua.NextBlockAvailableAt == nil || !ua.NextBlockAvailableAt.Equal(want) {
		t.Errorf("nextBlockAvailableAt = %v, want %v", ua.NextBlockAvailableAt, want)
	}

	blocked := rec.broadcastsOfType(domain.EventUserBlocked)
	if len(blocked) != 1 {
		t.Fatalf("got %d user_blocked broadcasts, want 1", len(blocked))
	}
	var ev domain.UserBlockedEvent
	decode(t, blocked[0], &ev)
	if ev.Blocker != "A" || ev.Blocked != "B" {
		t.Errorf("user_blocked = %+v", ev)
	}

	// B's actions are ignored while blocked
	if err := s.PerformAction(b); !errors.Is(err, ErrActorBlocked) {
		t.Errorf("blocked PerformAction err = %v", err)
	}
	if got := mustGet(t, s, b).Score; got != 0 {
		t.Errorf("blocked user scored: %v", got)
	}

	// A is on cooldown
	if err := s.BlockUser(a, "C"); !errors.Is(err, ErrCooldown) {
		t.Errorf("BlockUser within cooldown err = %v, want ErrCooldown", err)
	}
	if mustGet(t, s, c).IsBlocked {
		t.Error("C blocked despite cooldown")
	}

	clk.Advance(time.Minute)
	if n := s.SweepBlocks(); n != 1 {
		t.Fatalf("SweepBlocks cleared %d, want 1", n)
	}
	if mustGet(t, s, b).IsBlocked {
		t.Fatal("B still blocked after sweep")
	}
	if err := s.PerformAction(b); err != nil {
		t.Fatalf("PerformAction after unblock: %v", err)
	}
	if got := mustGet(t, s, b).Score; got != 1 {
		t.Errorf("B score = %v, want 1", got)
	}

	clk.Advance(3 * time.Minute)
	if err := s.BlockUser(a, "C"); !errors.Is(err, ErrCooldown) {
		t.Errorf("BlockUser at 4 min err = %v, want ErrCooldown", err)
	}
	clk.Advance(time.Minute)
	if err := s.BlockUser(a, "C"); err != nil {
		t.Errorf("BlockUser after cooldown: %v", err)
	}
}

func TestBlockUserPreconditions(t *testing.T) {
	s, _, _ := newTestState(t)
	a := mustCreate(t, s, "A", false)
	b := mustCreate(t, s, "B", false)
	admin := mustCreate(t, s, "root", true)

	if err := s.BlockUser(a, "A"); !errors.Is(err, ErrSelfTarget) {
		t.Errorf("self block err = %v", err)
	}
	if err := s.BlockUser(a, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing target err = %v", err)
	}

	if err := s.AdminBlockUser(admin, "B"); err != nil {
		t.Fatalf("AdminBlockUser: %v", err)
	}
	if err := s.BlockUser(a, "B"); !errors.Is(err, ErrTargetBlocked) {
		t.Errorf("already blocked target err = %v", err)
	}
	if err := s.BlockUser(b, "A"); !errors.Is(err, ErrActorBlocked) {
		t.Errorf("blocked actor err = %v", err)
	}
	if mustGet(t, s, a).NextBlockAvailableAt != nil {
		t.Error("failed blocks should not start a cooldown")
	}
}

func TestEventScoringScenario(t *testing.T) {
	s, _, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	tok := mustCreate(t, s, "alice", false)

	act := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			if err := s.PerformAction(tok); err != nil {
				t.Fatalf("PerformAction: %v", err)
			}
		}
	}

	act(5)
	if got := mustGet(t, s, tok).Score; got != 5 {
		t.Fatalf("score = %v, want 5", got)
	}

	if err := s.AdminCreateEvent(admin, domain.EventInput{
		Title:      "Triple",
		EndsAt:     clk.Now().Add(time.Hour).Format(time.RFC3339),
		Multiplier: 3,
	}); err != nil {
		t.Fatalf("AdminCreateEvent: %v", err)
	}
	act(1)
	if got := mustGet(t, s, tok).Score; got != 8 {
		t.Fatalf("score = %v, want 8", got)
	}

	if err := s.AdminCancelEvent(admin); err != nil {
		t.Fatalf("AdminCancelEvent: %v", err)
	}
	act(1)
	if got := mustGet(t, s, tok).Score; got != 9 {
		t.Errorf("score = %v, want 9", got)
	}
}
