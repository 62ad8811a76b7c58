package domain

import (
	"encoding/json"
	"time"
)

// Outbound event names (server -> session or broadcast)
const (
	EventAuthError       = "auth_error"
	EventUserData        = "user_data"
	EventCount           = "count"
	EventLeaderboard     = "leaderboard"
	EventAuditLog        = "audit_log"
	EventAuditLogHistory = "audit_log_history"
	EventEventUpdate     = "event_update"
	EventEventEnded      = "event_ended"
	EventUserBlocked     = "user_blocked"
	EventUserUnblocked   = "user_unblocked"
)

// Inbound event names (client -> server)
const (
	ActionPerform          = "perform_action"
	ActionUpgradePerAction = "upgrade_perAction"
	ActionUpgradePassive   = "upgrade_passive"
	ActionBlockUser        = "block_user"

	AdminNewUser             = "new_user"
	AdminDeleteUser          = "delete_user"
	AdminRenameUser          = "rename_user"
	AdminToggleAdmin         = "toggle_admin"
	AdminUserInfo            = "user_info"
	AdminCreateEvent         = "create_event"
	AdminEditEvent           = "edit_event"
	AdminCancelEvent         = "cancel_event"
	AdminUpdateBlockSettings = "update_block_settings"
	AdminBlockUser           = "admin_block_user"
	AdminUnblockUser         = "admin_unblock_user"
)

// Message is the JSON envelope of every websocket frame, in both directions
type Message struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into an envelope. Marshal failures leave Data empty.
func NewMessage(eventType string, data interface{}) Message {
	msg := Message{Type: eventType}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			msg.Data = raw
		}
	}
	return msg
}

// UserBlockedEvent is broadcast when any block is applied
type UserBlockedEvent struct {
	Blocker string     `json:"blocker"`
	Blocked string     `json:"blocked"`
	EndsAt  *time.Time `json:"endsAt,omitempty"`
}

// NameInput is the payload of single-name admin commands and block_user
type NameInput struct {
	Name string `json:"name" validate:"required,max=32"`
}

// RenameInput is the payload of rename_user
type RenameInput struct {
	OldName string `json:"old_name" validate:"required,max=32"`
	NewName string `json:"new_name" validate:"required,max=32"`
}

// EventInput is the payload of create_event and edit_event
type EventInput struct {
	Title       string  `json:"title" validate:"required,max=128"`
	Description string  `json:"description" validate:"max=1024"`
	EndsAt      string  `json:"endsAt" validate:"required"`
	Multiplier  float64 `json:"multiplier" validate:"gt=0"`
}

// BlockSettingsInput is the payload of update_block_settings
type BlockSettingsInput struct {
	BlockDurationMinutes    int `json:"blockDurationMinutes" validate:"min=1"`
	CooldownDurationMinutes int `json:"cooldownDurationMinutes" validate:"min=1"`
}
