package domain

import "time"

// GlobalEvent is the single optional timed score multiplier
type GlobalEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EndsAt      time.Time `json:"endsAt"`
	Multiplier  float64   `json:"multiplier"`
}

// ActiveAt reports whether the event still applies at now
func (e *GlobalEvent) ActiveAt(now time.Time) bool {
	return e != nil && now.Before(e.EndsAt)
}

// BlockSettings are the admin-tunable block timings
type BlockSettings struct {
	BlockDurationMinutes    int `json:"blockDurationMinutes"`
	CooldownDurationMinutes int `json:"cooldownDurationMinutes"`
}

// BlockDuration returns the block length as a duration
func (b BlockSettings) BlockDuration() time.Duration {
	return time.Duration(b.BlockDurationMinutes) * time.Minute
}

// Cooldown returns the per-actor cooldown as a duration
func (b BlockSettings) Cooldown() time.Duration {
	return time.Duration(b.CooldownDurationMinutes) * time.Minute
}

// AuditEntry is one immutable line of admin-visible history
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
}

// SystemActor names state changes made by background sweeps
const SystemActor = "SYSTEM"

// Snapshot is the persisted state layout
type Snapshot struct {
	Users         map[string]*UserRecord `json:"users"`
	Event         *GlobalEvent           `json:"event,omitempty"`
	BlockSettings *BlockSettings         `json:"blockSettings,omitempty"`
	SavedAt       time.Time              `json:"savedAt"`
}
