package user

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Authentication state lives in sessions
// and tokens; this row only carries identity and credentials.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateUserRequest carries the fields for registration
type CreateUserRequest struct {
	Username     string
	Email        string
	PasswordHash string
}
