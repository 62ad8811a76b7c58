package game

import (
	"fmt"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/metrics"
)

// PerformAction adds perAction times the effective multiplier to the sender's
// score. Blocked users are a no-op. Only the sender is told the new score.
func (s *State) PerformAction(token string) error {
	var err error
	s.update(func(o *outbox) {
		u, ok := s.users[token]
		if !ok {
			err = ErrInvalidToken
			return
		}
		if u.IsBlocked {
			err = ErrActorBlocked
			return
		}
		u.Score += float64(u.PerAction) * s.multiplierLocked(s.now())
		u.ActionCount++
		o.send(token, domain.NewMessage(domain.EventCount, u.Score))
	})
	if err == nil {
		metrics.ActionsTotal.Inc()
	}
	return err
}

// UpgradePerAction doubles perAction if the user can afford it
func (s *State) UpgradePerAction(token string) error {
	var err error
	s.update(func(o *outbox) {
		u, ok := s.users[token]
		if !ok {
			err = ErrInvalidToken
			return
		}
		cost := s.economy.PerActionCost(u.PerAction)
		if u.Score < cost {
			err = ErrInsufficientFunds
			s.auditLocked(o, u.Name, fmt.Sprintf("perAction upgrade failed: %v (have %.0f, need %.0f)", err, u.Score, cost))
			return
		}
		u.Score -= cost
		u.PerAction *= 2
		o.send(token, domain.NewMessage(domain.EventUserData, u))
		s.auditLocked(o, u.Name, fmt.Sprintf("upgraded perAction to %d for %.0f", u.PerAction, cost))
		s.mutatedLocked(o)
	})
	if err == nil {
		metrics.UpgradesTotal.WithLabelValues("per_action").Inc()
	}
	return err
}

// UpgradePassive buys one more passive unit if the user can afford it
func (s *State) UpgradePassive(token string) error {
	var err error
	s.update(func(o *outbox) {
		u, ok := s.users[token]
		if !ok {
			err = ErrInvalidToken
			return
		}
		cost := s.economy.PassiveCost(u.PassiveUnits)
		if u.Score < cost {
			err = ErrInsufficientFunds
			s.auditLocked(o, u.Name, fmt.Sprintf("passive upgrade failed: %v (have %.0f, need %.0f)", err, u.Score, cost))
			return
		}
		u.Score -= cost
		u.PassiveUnits++
		o.send(token, domain.NewMessage(domain.EventUserData, u))
		s.auditLocked(o, u.Name, fmt.Sprintf("bought passive unit #%d for %.0f", u.PassiveUnits, cost))
		s.mutatedLocked(o)
	})
	if err == nil {
		metrics.UpgradesTotal.WithLabelValues("passive").Inc()
	}
	return err
}

// BlockUser lets a player suspend another player's scoring for the configured
// duration, subject to cooldown and target state.
func (s *State) BlockUser(token, targetName string) error {
	var err error
	s.update(func(o *outbox) {
		actor, ok := s.users[token]
		if !ok {
			err = ErrInvalidToken
			return
		}
		now := s.now()
		targetToken, found := s.names[targetName]
		switch {
		case actor.IsBlocked:
			err = ErrActorBlocked
		case !found:
			err = ErrUserNotFound
		case targetToken == token:
			err = ErrSelfTarget
		case s.users[targetToken].IsBlocked:
			err = ErrTargetBlocked
		case !actor.CanBlockAt(now):
			err = ErrCooldown
		}
		if err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("block on %s failed: %v", targetName, err))
			return
		}

		target := s.users[targetToken]
		settings := s.settings
		s.applyBlockLocked(o, targetToken, target, actor.Name)
		next := now.Add(settings.Cooldown())
		actor.NextBlockAvailableAt = &next
		s.sendUserDataLocked(o, token)
		s.auditLocked(o, actor.Name, fmt.Sprintf("blocked %s for %d min", target.Name, settings.BlockDurationMinutes))
		s.mutatedLocked(o)
	})
	return err
}

// applyBlockLocked blocks target for the current block duration and announces it
func (s *State) applyBlockLocked(o *outbox, targetToken string, target *domain.UserRecord, blocker string) {
	ends := s.now().Add(s.settings.BlockDuration())
	target.IsBlocked = true
	target.BlockedBy = blocker
	target.BlockEndsAt = &ends

	o.broadcast(domain.NewMessage(domain.EventUserBlocked, domain.UserBlockedEvent{
		Blocker: blocker,
		Blocked: target.Name,
		EndsAt:  &ends,
	}))
	s.sendUserDataLocked(o, targetToken)
}

// expireBlockLocked clears a block and tells the affected session
func (s *State) expireBlockLocked(o *outbox, token string, u *domain.UserRecord) {
	u.ClearBlock()
	if _, live := s.sessions[token]; live {
		o.send(token, domain.NewMessage(domain.EventUserUnblocked, u.Name))
		o.send(token, domain.NewMessage(domain.EventUserData, u))
	}
	s.auditLocked(o, domain.SystemActor, fmt.Sprintf("block on %s expired", u.Name))
}
