package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ernie/shaker/internal/domain"
)

// recorder is a Notifier that keeps every delivery for inspection
type recorder struct {
	mu         sync.Mutex
	sent       map[string][]domain.Message
	broadcasts []domain.Message
	kicked     map[string]domain.Message
}

func newRecorder() *recorder {
	return &recorder{
		sent:   make(map[string][]domain.Message),
		kicked: make(map[string]domain.Message),
	}
}

func (r *recorder) Send(token string, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[token] = append(r.sent[token], msg)
}

func (r *recorder) Broadcast(msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, msg)
}

func (r *recorder) Kick(token string, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked[token] = msg
}

// sentOfType returns the messages of one type delivered to token
func (r *recorder) sentOfType(token, eventType string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.sent[token] {
		if m.Type == eventType {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) broadcastsOfType(eventType string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.broadcasts {
		if m.Type == eventType {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = make(map[string][]domain.Message)
	r.broadcasts = nil
	r.kicked = make(map[string]domain.Message)
}

// clock is a manually advanced time source
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestState(t *testing.T, opts ...Option) (*State, *recorder, *clock) {
	t.Helper()
	rec := newRecorder()
	clk := newClock()
	base := []Option{WithNotifier(rec), WithClock(clk.Now)}
	return New(append(base, opts...)...), rec, clk
}

func mustCreate(t *testing.T, s *State, name string, isAdmin bool) string {
	t.Helper()
	token, err := s.CreateUser(name, isAdmin)
	if err != nil {
		t.Fatalf("CreateUser(%q): %v", name, err)
	}
	return token
}

func mustAdmit(t *testing.T, s *State, token string) *Session {
	t.Helper()
	sess, err := s.Admit(token)
	if err != nil {
		t.Fatalf("Admit(%q): %v", token, err)
	}
	return sess
}

func mustGet(t *testing.T, s *State, token string) *domain.UserRecord {
	t.Helper()
	u, ok := s.Get(token)
	if !ok {
		t.Fatalf("no record for token %q", token)
	}
	return u
}

func setScore(t *testing.T, s *State, token string, score float64) {
	t.Helper()
	u := mustGet(t, s, token)
	u.Score = score
	s.Put(token, u)
}

func decode(t *testing.T, msg domain.Message, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(msg.Data, v); err != nil {
		t.Fatalf("decoding %s payload: %v", msg.Type, err)
	}
}

func drainPersist(s *State) {
	select {
	case <-s.PersistRequests():
	default:
	}
}

func persistRequested(s *State) bool {
	select {
	case <-s.PersistRequests():
		return true
	default:
		return false
	}
}
