// Package domain contains core domain types for the goal planning service.
package domain

import (
	"time"
)

// User represents a user in the system together with the planning session
// they are currently attached to.
type User struct {
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	CurrentSessionID string    `json:"current_session_id,omitempty"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasActiveSession returns true if the user is attached to a planning session.
func (u *User) HasActiveSession() bool {
	return u.CurrentSessionID != ""
}

// IdleFor returns how long the user has been inactive.
// Returns 0 if the user was seen in the future relative to now.
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
