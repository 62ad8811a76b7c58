package game

import "errors"

// Admission rejections
var (
	ErrInvalidToken     = errors.New("invalid game token")
	ErrAlreadyConnected = errors.New("already connected on another device")
)

// RejectionMessage returns the client-facing auth_error text for an admission error
func RejectionMessage(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyConnected):
		return "You are already logged in on another device."
	case errors.Is(err, ErrInvalidToken):
		return "Invalid game token"
	default:
		return "Connection rejected"
	}
}

// ErrNotAdmin is returned for admin commands from non-admin sessions. It is
// never surfaced to the client.
var ErrNotAdmin = errors.New("admin access required")

// Precondition failures. Each is audit-logged but produces no client error event.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNameTaken         = errors.New("name taken")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEventActive       = errors.New("an event is already active")
	ErrNoEvent           = errors.New("no active event")
	ErrProtectedIdentity = errors.New("identity is protected")
	ErrAdminIdentity     = errors.New("admin identities cannot be deleted")
	ErrSelfTarget        = errors.New("cannot target yourself")
	ErrActorBlocked      = errors.New("actor is blocked")
	ErrTargetBlocked     = errors.New("target is already blocked")
	ErrCooldown          = errors.New("block cooldown has not elapsed")
	ErrNotBlocked        = errors.New("user is not blocked")
	ErrInvalidInput      = errors.New("invalid input")
)
