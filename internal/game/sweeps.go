package game

import (
	"fmt"
	"sort"

	"github.com/ernie/shaker/internal/domain"
)

// SweepBlocks clears every block whose end time has passed and returns how
// many were cleared. Running it again over the same records changes nothing.
func (s *State) SweepBlocks() int {
	var cleared int
	s.update(func(o *outbox) {
		now := s.now()
		for _, token := range s.sortedTokensLocked() {
			u := s.users[token]
			if !u.BlockExpired(now) {
				continue
			}
			s.expireBlockLocked(o, token, u)
			cleared++
		}
		if cleared > 0 {
			s.mutatedLocked(o)
		}
	})
	return cleared
}

// SweepEvent clears the global event once its end time has passed. It
// reports whether an event ended.
func (s *State) SweepEvent() bool {
	var ended bool
	s.update(func(o *outbox) {
		ended = s.endExpiredEventLocked(o)
	})
	return ended
}

// endExpiredEventLocked clears an event whose end time has passed and
// announces it. Admin event commands call it first so an expired event is
// never replaced silently.
func (s *State) endExpiredEventLocked(o *outbox) bool {
	if s.event == nil || s.event.ActiveAt(s.now()) {
		return false
	}
	title := s.event.Title
	s.event = nil
	o.broadcast(domain.NewMessage(domain.EventEventEnded, title))
	s.auditLocked(o, domain.SystemActor, fmt.Sprintf("event %q ended", title))
	o.persist = true
	return true
}

// PassiveTick credits passive income to every unblocked record with passive
// units, using the same effective multiplier as manual actions.
func (s *State) PassiveTick() int {
	var credited int
	s.update(func(o *outbox) {
		mult := s.multiplierLocked(s.now())
		for _, token := range s.sortedTokensLocked() {
			u := s.users[token]
			if u.PassiveUnits <= 0 || u.IsBlocked {
				continue
			}
			u.Score += domain.PassiveIncome(u) * mult
			credited++
			if _, live := s.sessions[token]; live {
				o.send(token, domain.NewMessage(domain.EventCount, u.Score))
			}
		}
		if credited > 0 {
			o.persist = true
		}
	})
	return credited
}

// BroadcastLeaderboard pushes the current ranking to every session
func (s *State) BroadcastLeaderboard() {
	s.update(func(o *outbox) {
		o.broadcast(domain.NewMessage(domain.EventLeaderboard, s.leaderboardLocked()))
	})
}

func (s *State) sortedTokensLocked() []string {
	tokens := make([]string, 0, len(s.users))
	for token := range s.users {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
