package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ernie/shaker/internal/domain"
)

func TestSweepBlocksIdempotent(t *testing.T) {
	s, rec, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	alice := mustCreate(t, s, "alice", false)
	mustAdmit(t, s, alice)
	if err := s.AdminBlockUser(admin, "alice"); err != nil {
		t.Fatalf("AdminBlockUser: %v", err)
	}

	if n := s.SweepBlocks(); n != 0 {
		t.Errorf("sweep before expiry cleared %d", n)
	}

	clk.Advance(time.Minute)
	rec.reset()
	if n := s.SweepBlocks(); n != 1 {
		t.Fatalf("sweep cleared %d, want 1", n)
	}
	after := mustGet(t, s, alice)
	if after.IsBlocked || after.BlockedBy != "" || after.BlockEndsAt != nil {
		t.Errorf("block fields not cleared: %+v", after)
	}
	if len(rec.sentOfType(alice, domain.EventUserUnblocked)) != 1 {
		t.Error("live session not notified of expiry")
	}
	if entry := s.AuditEntries()[0]; entry.Actor != domain.SystemActor {
		t.Errorf("expiry audit actor = %q, want SYSTEM", entry.Actor)
	}

	auditLen := len(s.AuditEntries())
	rec.reset()
	if n := s.SweepBlocks(); n != 0 {
		t.Errorf("second sweep cleared %d", n)
	}
	if again := mustGet(t, s, alice); again.IsBlocked != after.IsBlocked || again.Score != after.Score {
		t.Errorf("second sweep changed state: %+v", again)
	}
	if len(s.AuditEntries()) != auditLen || len(rec.broadcasts) != 0 {
		t.Error("second sweep had side effects")
	}
}

func TestSweepEvent(t *testing.T) {
	s, rec, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	if err := s.AdminCreateEvent(admin, domain.EventInput{
		Title:      "Sprint",
		EndsAt:     clk.Now().Add(time.Minute).Format(time.RFC3339),
		Multiplier: 2,
	}); err != nil {
		t.Fatalf("AdminCreateEvent: %v", err)
	}

	if s.SweepEvent() {
		t.Error("event ended early")
	}
	clk.Advance(time.Minute)
	rec.reset()
	if !s.SweepEvent() {
		t.Fatal("expired event not swept")
	}
	if s.Event() != nil {
		t.Error("event still set")
	}
	ended := rec.broadcastsOfType(domain.EventEventEnded)
	if len(ended) != 1 {
		t.Fatalf("got %d event_ended, want 1", len(ended))
	}
	var title string
	decode(t, ended[0], &title)
	if title != "Sprint" {
		t.Errorf("title = %q", title)
	}
	if s.SweepEvent() {
		t.Error("second sweep reported an ended event")
	}
}

func TestPassiveTick(t *testing.T) {
	s, rec, clk := newTestState(t)
	admin := mustCreate(t, s, "root", true)
	earner := mustCreate(t, s, "earner", false)
	blocked := mustCreate(t, s, "blocked", false)
	idle := mustCreate(t, s, "idle", false)
	mustAdmit(t, s, earner)

	for _, tok := range []string{earner, blocked} {
		u := mustGet(t, s, tok)
		u.PassiveUnits = 3
		u.PerAction = 4
		s.Put(tok, u)
	}
	if err := s.AdminBlockUser(admin, "blocked"); err != nil {
		t.Fatalf("AdminBlockUser: %v", err)
	}
	rec.reset()

	if n := s.PassiveTick(); n != 1 {
		t.Fatalf("PassiveTick credited %d, want 1", n)
	}
	if got := mustGet(t, s, earner).Score; got != 12 {
		t.Errorf("earner score = %v, want 12", got)
	}
	if got := mustGet(t, s, blocked).Score; got != 0 {
		t.Errorf("blocked user earned %v", got)
	}
	if got := mustGet(t, s, idle).Score; got != 0 {
		t.Errorf("idle user earned %v", got)
	}
	if len(rec.sentOfType(earner, domain.EventCount)) != 1 {
		t.Error("live earner should get a count update")
	}

	if err := s.AdminCreateEvent(admin, domain.EventInput{
		Title:      "Double",
		EndsAt:     clk.Now().Add(time.Hour).Format(time.RFC3339),
		Multiplier: 2,
	}); err != nil {
		t.Fatalf("AdminCreateEvent: %v", err)
	}
	s.PassiveTick()
	if got := mustGet(t, s, earner).Score; got != 36 {
		t.Errorf("earner score during event = %v, want 36", got)
	}
}

// Action handlers and ticks running together must not lose updates
func TestConcurrentActionsAndTicks(t *testing.T) {
	s, _, _ := newTestState(t)
	tok := mustCreate(t, s, "alice", false)
	u := mustGet(t, s, tok)
	u.PassiveUnits = 1
	s.Put(tok, u)

	const actions = 200
	const ticks = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < actions; i++ {
			if err := s.PerformAction(tok); err != nil {
				t.Errorf("PerformAction: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < ticks; i++ {
			s.PassiveTick()
			s.BroadcastLeaderboard()
			s.SweepBlocks()
		}
	}()
	wg.Wait()

	if got := mustGet(t, s, tok).Score; got != actions+ticks {
		t.Errorf("score = %v, want %d", got, actions+ticks)
	}
}

type memSaver struct {
	mu    sync.Mutex
	saves []domain.Snapshot
	err   error
}

func (m *memSaver) Save(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, snap)
	return nil
}

func (m *memSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func TestSchedulerPersistOnRequestAndStop(t *testing.T) {
	s, _, _ := newTestState(t)
	saver := &memSaver{}
	sc := NewScheduler(s, saver, Intervals{Persist: time.Hour, Leaderboard: time.Hour, Passive: time.Hour, BlockSweep: time.Hour, EventSweep: time.Hour})
	sc.Start(context.Background())

	mustCreate(t, s, "alice", false)

	deadline := time.Now().Add(2 * time.Second)
	for saver.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if saver.count() == 0 {
		t.Fatal("persist request did not trigger a save")
	}

	before := saver.count()
	sc.Stop()
	sc.Stop()
	if saver.count() != before+1 {
		t.Errorf("Stop wrote %d snapshots, want 1", saver.count()-before)
	}
	last := saver.saves[len(saver.saves)-1]
	if len(last.Users) != 1 {
		t.Errorf("final snapshot has %d users, want 1", len(last.Users))
	}
}

func TestSchedulerPersistError(t *testing.T) {
	s, _, _ := newTestState(t)
	saver := &memSaver{err: errors.New("disk full")}
	sc := NewScheduler(s, saver, Intervals{})
	if err := sc.Persist(context.Background()); err == nil {
		t.Error("Persist should surface the save error")
	}
}

func TestSchedulerTicksRun(t *testing.T) {
	s, rec, _ := newTestState(t)
	mustCreate(t, s, "alice", false)
	rec.reset()

	sc := NewScheduler(s, nil, Intervals{Leaderboard: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	sc.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.broadcastsOfType(domain.EventLeaderboard)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	sc.Stop()
	if len(rec.broadcastsOfType(domain.EventLeaderboard)) == 0 {
		t.Error("leaderboard loop never broadcast")
	}
}
