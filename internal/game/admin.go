package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/metrics"
	"github.com/go-playground/validator/v10"
)

// OperatorActor names changes made through the offline CLI
const OperatorActor = "OPERATOR"

// adminCommand runs fn only when actorToken belongs to an admin. Non-admin
// callers get ErrNotAdmin with no audit entry and no message.
func (s *State) adminCommand(actorToken, command string, fn func(o *outbox, actor *domain.UserRecord) error) error {
	var err error
	s.update(func(o *outbox) {
		actor, ok := s.users[actorToken]
		if !ok || !actor.IsAdmin {
			err = ErrNotAdmin
			return
		}
		err = fn(o, actor)
	})

	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotAdmin):
		outcome = "denied"
		s.log.Debug().Str("command", command).Msg("dropped admin command from non-admin")
	case err != nil:
		outcome = "failed"
	}
	metrics.AdminCommandsTotal.WithLabelValues(command, outcome).Inc()
	return err
}

// validateInput runs struct validation and folds the result into ErrInvalidInput
func (s *State) validateInput(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

// --- user management (shared by admin commands and the operator CLI) ---

func (s *State) createUserLocked(name string, isAdmin bool) (string, error) {
	if err := s.validateInput(domain.NameInput{Name: name}); err != nil {
		return "", err
	}
	if _, taken := s.names[name]; taken {
		return "", ErrNameTaken
	}
	token, err := s.newUniqueTokenLocked()
	if err != nil {
		return "", err
	}
	u := domain.NewUserRecord(name, s.nextSeq)
	u.IsAdmin = isAdmin
	s.putLocked(token, u)
	return token, nil
}

func (s *State) deleteUserLocked(o *outbox, name string) error {
	token, ok := s.names[name]
	if !ok {
		return ErrUserNotFound
	}
	if s.users[token].IsAdmin {
		return ErrAdminIdentity
	}
	if _, live := s.sessions[token]; live {
		o.kick(token, domain.NewMessage(domain.EventAuthError, "Your account was deleted"))
	}
	s.deleteLocked(token)
	return nil
}

func (s *State) renameUserLocked(o *outbox, oldName, newName string) error {
	if err := s.validateInput(domain.RenameInput{OldName: oldName, NewName: newName}); err != nil {
		return err
	}
	token, ok := s.names[oldName]
	if !ok {
		return ErrUserNotFound
	}
	if s.IsProtected(oldName) {
		return ErrProtectedIdentity
	}
	if _, taken := s.names[newName]; taken {
		return ErrNameTaken
	}
	u := s.users[token]
	delete(s.names, oldName)
	u.Name = newName
	s.names[newName] = token
	s.sendUserDataLocked(o, token)
	return nil
}

func (s *State) toggleAdminLocked(o *outbox, name string) (bool, error) {
	token, ok := s.names[name]
	if !ok {
		return false, ErrUserNotFound
	}
	if s.primaryAdminLocked(name) {
		return false, ErrProtectedIdentity
	}
	u := s.users[token]
	u.IsAdmin = !u.IsAdmin
	s.sendUserDataLocked(o, token)
	if u.IsAdmin {
		if _, live := s.sessions[token]; live {
			o.send(token, domain.NewMessage(domain.EventAuditLogHistory, s.audit.Entries()))
		}
	}
	return u.IsAdmin, nil
}

// CreateUser adds a user outside of any session and returns its token
func (s *State) CreateUser(name string, isAdmin bool) (string, error) {
	var token string
	var err error
	s.update(func(o *outbox) {
		token, err = s.createUserLocked(name, isAdmin)
		if err != nil {
			return
		}
		s.auditLocked(o, OperatorActor, fmt.Sprintf("created user %s", name))
		s.mutatedLocked(o)
	})
	return token, err
}

// DeleteUser removes a non-admin user outside of any session
func (s *State) DeleteUser(name string) error {
	var err error
	s.update(func(o *outbox) {
		if err = s.deleteUserLocked(o, name); err != nil {
			return
		}
		s.auditLocked(o, OperatorActor, fmt.Sprintf("deleted user %s", name))
		s.mutatedLocked(o)
	})
	return err
}

// RenameUser changes a display name outside of any session
func (s *State) RenameUser(oldName, newName string) error {
	var err error
	s.update(func(o *outbox) {
		if err = s.renameUserLocked(o, oldName, newName); err != nil {
			return
		}
		s.auditLocked(o, OperatorActor, fmt.Sprintf("renamed %s to %s", oldName, newName))
		s.mutatedLocked(o)
	})
	return err
}

// ToggleAdmin flips admin status outside of any session and returns the new value
func (s *State) ToggleAdmin(name string) (bool, error) {
	var isAdmin bool
	var err error
	s.update(func(o *outbox) {
		if isAdmin, err = s.toggleAdminLocked(o, name); err != nil {
			return
		}
		s.auditLocked(o, OperatorActor, fmt.Sprintf("set admin=%t for %s", isAdmin, name))
		s.mutatedLocked(o)
	})
	return isAdmin, err
}

// --- admin commands ---

// AdminNewUser creates a user with a fresh token
func (s *State) AdminNewUser(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminNewUser, func(o *outbox, actor *domain.UserRecord) error {
		token, err := s.createUserLocked(name, false)
		if err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("create user %s failed: %v", name, err))
			return err
		}
		s.auditLocked(o, actor.Name, fmt.Sprintf("created user %s with token %s", name, token), token)
		s.mutatedLocked(o)
		return nil
	})
}

// AdminDeleteUser removes a non-admin user and kicks their session
func (s *State) AdminDeleteUser(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminDeleteUser, func(o *outbox, actor *domain.UserRecord) error {
		if err := s.deleteUserLocked(o, name); err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("delete %s failed: %v", name, err))
			return err
		}
		s.auditLocked(o, actor.Name, fmt.Sprintf("deleted user %s", name))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminRenameUser changes a display name, rejecting collisions
func (s *State) AdminRenameUser(actorToken, oldName, newName string) error {
	return s.adminCommand(actorToken, domain.AdminRenameUser, func(o *outbox, actor *domain.UserRecord) error {
		if err := s.renameUserLocked(o, oldName, newName); err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("rename %s to %s failed: %v", oldName, newName, err))
			return err
		}
		s.auditLocked(o, actor.Name, fmt.Sprintf("renamed %s to %s", oldName, newName))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminToggleAdmin flips admin status of a non-protected identity
func (s *State) AdminToggleAdmin(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminToggleAdmin, func(o *outbox, actor *domain.UserRecord) error {
		isAdmin, err := s.toggleAdminLocked(o, name)
		if err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("toggle admin for %s failed: %v", name, err))
			return err
		}
		s.auditLocked(o, actor.Name, fmt.Sprintf("set admin=%t for %s", isAdmin, name))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminUserInfo dumps a record into the audit log without changing state
func (s *State) AdminUserInfo(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminUserInfo, func(o *outbox, actor *domain.UserRecord) error {
		token, ok := s.names[name]
		if !ok {
			s.auditLocked(o, actor.Name, fmt.Sprintf("user info %s failed: %v", name, ErrUserNotFound))
			return ErrUserNotFound
		}
		s.auditLocked(o, actor.Name, describeUser(token, s.users[token]), token)
		return nil
	})
}

func describeUser(token string, u *domain.UserRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "user info %s: token=%s score=%.0f perAction=%d passiveUnits=%d actions=%d live=%t admin=%t",
		u.Name, token, u.Score, u.PerAction, u.PassiveUnits, u.ActionCount, u.IsLive, u.IsAdmin)
	if u.IsBlocked && u.BlockEndsAt != nil {
		fmt.Fprintf(&b, " blockedBy=%s until=%s", u.BlockedBy, u.BlockEndsAt.Format(time.RFC3339))
	}
	if u.NextBlockAvailableAt != nil {
		fmt.Fprintf(&b, " nextBlock=%s", u.NextBlockAvailableAt.Format(time.RFC3339))
	}
	return b.String()
}

// parseEventInput validates the payload and resolves the end instant
func (s *State) parseEventInput(in domain.EventInput) (*domain.GlobalEvent, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	endsAt, err := parseEndsAt(in.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("%w: endsAt: %v", ErrInvalidInput, err)
	}
	if !endsAt.After(s.now()) {
		return nil, fmt.Errorf("%w: endsAt is in the past", ErrInvalidInput)
	}
	return &domain.GlobalEvent{
		Title:       in.Title,
		Description: in.Description,
		EndsAt:      endsAt,
		Multiplier:  in.Multiplier,
	}, nil
}

// datetime-local inputs carry no zone and are read in server local time
var endsAtLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseEndsAt(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range endsAtLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// AdminCreateEvent starts a global event; fails while another is active
func (s *State) AdminCreateEvent(actorToken string, in domain.EventInput) error {
	return s.adminCommand(actorToken, domain.AdminCreateEvent, func(o *outbox, actor *domain.UserRecord) error {
		s.endExpiredEventLocked(o)
		if s.event != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("create event %q failed: %v", in.Title, ErrEventActive))
			return ErrEventActive
		}
		ev, err := s.parseEventInput(in)
		if err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("create event %q failed: %v", in.Title, err))
			return err
		}
		s.event = ev
		o.broadcast(domain.NewMessage(domain.EventEventUpdate, ev))
		s.auditLocked(o, actor.Name, fmt.Sprintf("started event %q (x%g until %s)", ev.Title, ev.Multiplier, ev.EndsAt.Format(time.RFC3339)))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminEditEvent replaces the active event's fields
func (s *State) AdminEditEvent(actorToken string, in domain.EventInput) error {
	return s.adminCommand(actorToken, domain.AdminEditEvent, func(o *outbox, actor *domain.UserRecord) error {
		s.endExpiredEventLocked(o)
		if s.event == nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("edit event failed: %v", ErrNoEvent))
			return ErrNoEvent
		}
		ev, err := s.parseEventInput(in)
		if err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("edit event %q failed: %v", s.event.Title, err))
			return err
		}
		old := s.event.Title
		s.event = ev
		o.broadcast(domain.NewMessage(domain.EventEventUpdate, ev))
		s.auditLocked(o, actor.Name, fmt.Sprintf("edited event %q to %q (x%g until %s)", old, ev.Title, ev.Multiplier, ev.EndsAt.Format(time.RFC3339)))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminCancelEvent ends the active event immediately
func (s *State) AdminCancelEvent(actorToken string) error {
	return s.adminCommand(actorToken, domain.AdminCancelEvent, func(o *outbox, actor *domain.UserRecord) error {
		s.endExpiredEventLocked(o)
		if s.event == nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("cancel event failed: %v", ErrNoEvent))
			return ErrNoEvent
		}
		title := s.event.Title
		s.event = nil
		o.broadcast(domain.NewMessage(domain.EventEventEnded, title))
		s.auditLocked(o, actor.Name, fmt.Sprintf("cancelled event %q", title))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminUpdateBlockSettings changes block timings for future blocks
func (s *State) AdminUpdateBlockSettings(actorToken string, in domain.BlockSettingsInput) error {
	return s.adminCommand(actorToken, domain.AdminUpdateBlockSettings, func(o *outbox, actor *domain.UserRecord) error {
		if err := s.validateInput(in); err != nil {
			s.auditLocked(o, actor.Name, fmt.Sprintf("update block settings failed: %v", err))
			return err
		}
		s.settings = domain.BlockSettings{
			BlockDurationMinutes:    in.BlockDurationMinutes,
			CooldownDurationMinutes: in.CooldownDurationMinutes,
		}
		s.auditLocked(o, actor.Name, fmt.Sprintf("block settings: duration %d min, cooldown %d min",
			in.BlockDurationMinutes, in.CooldownDurationMinutes))
		o.persist = true
		return nil
	})
}

// AdminBlockUser blocks a user, bypassing cooldown and target-state checks
func (s *State) AdminBlockUser(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminBlockUser, func(o *outbox, actor *domain.UserRecord) error {
		token, ok := s.names[name]
		if !ok {
			s.auditLocked(o, actor.Name, fmt.Sprintf("admin block %s failed: %v", name, ErrUserNotFound))
			return ErrUserNotFound
		}
		s.applyBlockLocked(o, token, s.users[token], actor.Name)
		s.auditLocked(o, actor.Name, fmt.Sprintf("admin blocked %s for %d min", name, s.settings.BlockDurationMinutes))
		s.mutatedLocked(o)
		return nil
	})
}

// AdminUnblockUser lifts a block early
func (s *State) AdminUnblockUser(actorToken, name string) error {
	return s.adminCommand(actorToken, domain.AdminUnblockUser, func(o *outbox, actor *domain.UserRecord) error {
		token, ok := s.names[name]
		if !ok {
			s.auditLocked(o, actor.Name, fmt.Sprintf("admin unblock %s failed: %v", name, ErrUserNotFound))
			return ErrUserNotFound
		}
		u := s.users[token]
		if !u.IsBlocked {
			s.auditLocked(o, actor.Name, fmt.Sprintf("admin unblock %s failed: %v", name, ErrNotBlocked))
			return ErrNotBlocked
		}
		u.ClearBlock()
		o.broadcast(domain.NewMessage(domain.EventUserUnblocked, name))
		s.sendUserDataLocked(o, token)
		s.auditLocked(o, actor.Name, fmt.Sprintf("admin unblocked %s", name))
		s.mutatedLocked(o)
		return nil
	})
}
