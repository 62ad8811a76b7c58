package game

import (
	"sync"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/metrics"
	"github.com/google/uuid"
)

// Session is an admitted connection holding a token
type Session struct {
	ID    string
	Token string
	Name  string

	state *State
	once  sync.Once
}

// Admit enforces at-most-one live session per token. On success the record is
// marked live and a leaderboard refresh is broadcast.
func (s *State) Admit(token string) (*Session, error) {
	var sess *Session
	var err error
	s.update(func(o *outbox) {
		u, ok := s.users[token]
		if !ok {
			err = ErrInvalidToken
			return
		}
		if u.IsLive {
			err = ErrAlreadyConnected
			return
		}
		u.IsLive = true
		sess = &Session{ID: uuid.NewString(), Token: token, Name: u.Name, state: s}
		s.sessions[token] = sess.ID
		o.broadcast(domain.NewMessage(domain.EventLeaderboard, s.leaderboardLocked()))
	})

	switch {
	case err == ErrInvalidToken:
		metrics.AdmissionsTotal.WithLabelValues("invalid_token").Inc()
	case err == ErrAlreadyConnected:
		metrics.AdmissionsTotal.WithLabelValues("already_connected").Inc()
	default:
		metrics.AdmissionsTotal.WithLabelValues("accepted").Inc()
		metrics.SessionsLive.Inc()
		s.log.Info().Str("session", sess.ID).Str("user", sess.Name).Msg("session admitted")
	}
	return sess, err
}

// Resume sends the initial state to a freshly admitted session. A block that
// lapsed while the user was away is cleared first.
func (s *State) Resume(sess *Session) {
	s.update(func(o *outbox) {
		if s.sessions[sess.Token] != sess.ID {
			return
		}
		u := s.users[sess.Token]
		if u == nil {
			return
		}
		now := s.now()
		if u.BlockExpired(now) {
			s.expireBlockLocked(o, sess.Token, u)
		}

		o.send(sess.Token, domain.NewMessage(domain.EventUserData, u))
		if s.event.ActiveAt(now) {
			o.send(sess.Token, domain.NewMessage(domain.EventEventUpdate, s.event))
		}
		if u.IsAdmin {
			o.send(sess.Token, domain.NewMessage(domain.EventAuditLogHistory, s.audit.Entries()))
		}
		o.send(sess.Token, domain.NewMessage(domain.EventLeaderboard, s.leaderboardLocked()))
	})
}

// Close marks the session offline. Safe to call any number of times.
func (sess *Session) Close() {
	sess.once.Do(func() {
		sess.state.MarkOffline(sess.Token, sess.ID)
	})
}

// MarkOffline clears isLive for token if sessionID still holds it. It is
// idempotent and ignores stale session ids.
func (s *State) MarkOffline(token, sessionID string) bool {
	var changed bool
	s.update(func(o *outbox) {
		if current, ok := s.sessions[token]; !ok || current != sessionID {
			return
		}
		delete(s.sessions, token)
		if u := s.users[token]; u != nil {
			u.IsLive = false
		}
		changed = true
		o.broadcast(domain.NewMessage(domain.EventLeaderboard, s.leaderboardLocked()))
	})
	if changed {
		metrics.SessionsLive.Dec()
		s.log.Info().Str("session", sessionID).Msg("session closed")
	}
	return changed
}

// LiveCount returns the number of admitted sessions
func (s *State) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
