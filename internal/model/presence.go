package model

import "time"

// PresenceStatus is the wire form of one user's presence.
// LastSeenAt is absent for users that were never seen online.
type PresenceStatus struct {
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// LastSeen is the persisted offline timestamp for a user.
type LastSeen struct {
	UserID     string    `db:"user_id" json:"userId"`
	LastSeenAt time.Time `db:"last_seen_at" json:"lastSeenAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}
