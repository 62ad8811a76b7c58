package domain

import "time"

// UserRecord is the mutable per-user game state, keyed by token in the store
type UserRecord struct {
	Name                 string     `json:"name"`
	Score                float64    `json:"score"`
	PerAction            int64      `json:"perAction"`
	PassiveUnits         int64      `json:"passiveUnits"`
	ActionCount          int64      `json:"actionCount"`
	IsLive               bool       `json:"isLive"`
	IsAdmin              bool       `json:"isAdmin"`
	IsBlocked            bool       `json:"isBlocked"`
	BlockedBy            string     `json:"blockedBy,omitempty"`
	BlockEndsAt          *time.Time `json:"blockEndsAt,omitempty"`
	NextBlockAvailableAt *time.Time `json:"nextBlockAvailableAt,omitempty"`
	Seq                  int64      `json:"seq"` // creation order, used as leaderboard tie-break
}

// NewUserRecord returns a fresh record with starting economy values
func NewUserRecord(name string, seq int64) *UserRecord {
	return &UserRecord{
		Name:      name,
		PerAction: 1,
		Seq:       seq,
	}
}

// Clone returns a deep copy safe to hand out of the store lock
func (u *UserRecord) Clone() *UserRecord {
	c := *u
	if u.BlockEndsAt != nil {
		t := *u.BlockEndsAt
		c.BlockEndsAt = &t
	}
	if u.NextBlockAvailableAt != nil {
		t := *u.NextBlockAvailableAt
		c.NextBlockAvailableAt = &t
	}
	return &c
}

// ClearBlock resets the three block fields
func (u *UserRecord) ClearBlock() {
	u.IsBlocked = false
	u.BlockedBy = ""
	u.BlockEndsAt = nil
}

// BlockExpired reports whether the record holds a block that has lapsed at now
func (u *UserRecord) BlockExpired(now time.Time) bool {
	return u.IsBlocked && u.BlockEndsAt != nil && !u.BlockEndsAt.After(now)
}

// CanBlockAt reports whether the user's block cooldown has elapsed
func (u *UserRecord) CanBlockAt(now time.Time) bool {
	return u.NextBlockAvailableAt == nil || !u.NextBlockAvailableAt.After(now)
}

// LeaderboardEntry is one row of the pushed ranking
type LeaderboardEntry struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	IsLive    bool    `json:"isLive"`
	IsBlocked bool    `json:"isBlocked"`
}
