package auth

import "time"

// Identity is the user a verified token speaks for.
type Identity struct {
	// UserID is the token subject.
	UserID string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// Claims holds every claim of the token, registered ones included.
	Claims map[string]any
}

// Expired reports whether the token behind id has lapsed at now. A zero
// ExpiresAt never lapses.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// Anonymous reports whether id names no user. A nil identity is anonymous.
func (id *Identity) Anonymous() bool {
	return id == nil || id.UserID == ""
}
