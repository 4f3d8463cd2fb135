package session

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a browser SSO session. A session is valid iff it
// has not been revoked and both expiries are in the future. Activity
// pushes IdleExpiry forward; AbsoluteExpiry never moves.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	IdleExpiry     time.Time  `json:"idle_expiry"`
	AbsoluteExpiry time.Time  `json:"absolute_expiry"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsValid reports whether the session is usable at the given instant
func (s *Session) IsValid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.IdleExpiry) && now.Before(s.AbsoluteExpiry)
}

// CreateSessionRequest carries the inputs for creating a new session
type CreateSessionRequest struct {
	UserID     uuid.UUID
	RememberMe bool
	IPAddress  string
	UserAgent  string
}
