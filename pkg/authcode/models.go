package authcode

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizationCode is the stored record of an issued code. Only the
// SHA-256 hash of the code is persisted; the plaintext is handed to the
// client once in the redirect and never stored.
type AuthorizationCode struct {
	CodeHash            string
	ClientID            string
	UserID              uuid.UUID
	SessionID           uuid.UUID
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            time.Time
	CreatedAt           time.Time
	ExpiresAt           time.Time
	UsedAt              *time.Time
}

// IssueRequest carries everything the authorize endpoint binds into a code
type IssueRequest struct {
	ClientID            string
	UserID              uuid.UUID
	SessionID           uuid.UUID
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	AuthTime            time.Time
}

// ExchangeRequest carries the token endpoint's parameters for the
// authorization_code grant
type ExchangeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}
