package domain

import "time"

// SessionRecord is the single shared document identifying which login currently
// owns a user account's active session. One record per user; a new login
// overwrites it in place. The token is the sole arbiter of ownership.
type SessionRecord struct {
	SessionToken  string
	UserID        string
	UserEmail     string // optional; display and audit only
	CreatedAt     time.Time
	LastHeartbeat time.Time
	IsActive      bool
	EndedAt       *time.Time // nil until explicit destruction
}

// LockoutRecord counts forced evictions for a user. One record per user,
// created on first eviction, never deleted by this subsystem.
type LockoutRecord struct {
	KickCount   int64
	FirstKickAt *time.Time
	LastKickAt  *time.Time
	// IsLocked is retained for compatibility but the store forces it to false
	// on every write: evictions are tracked, never enforced as a lockout.
	IsLocked bool
}
