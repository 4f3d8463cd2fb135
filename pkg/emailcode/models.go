package emailcode

import (
	"time"

	"github.com/google/uuid"
)

// Purposes a one-time email code can be issued for
const (
	PurposeRegister    = "register"
	PurposeReset       = "reset"
	PurposeChangeEmail = "change_email"
)

// EmailCode is a stored one-time code. The plaintext code is emailed to
// the user; only its SHA-256 hash is persisted.
type EmailCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Email     string
	Purpose   string
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}
