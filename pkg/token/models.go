package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Revocation reasons recorded on refresh token rows
const (
	ReasonRotated        = "rotated"
	ReasonRefreshReuse   = "refresh_reuse"
	ReasonLogout         = "logout"
	ReasonClientRequest  = "client_request"
	ReasonCredentialEdit = "credential_change"
	ReasonExpired        = "expired"
)

// token_type claim values. Access and refresh tokens share a signing
// key, so verifiers must check the type to keep one from standing in
// for the other.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// RefreshToken is the durable record for an issued refresh token. The
// JWT handed to the client is a claim check; this row is the source of
// truth for its lifecycle.
type RefreshToken struct {
	JTI          string
	UserID       uuid.UUID
	ClientID     string
	SessionID    uuid.UUID
	Scope        string
	ParentJTI    *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RotatedAt    *time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// Active reports whether the token can still be redeemed
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.RotatedAt == nil && now.Before(t.ExpiresAt)
}

// TokenSet is the token endpoint's success payload
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// MintRequest carries everything needed to mint a token set after a
// successful authorization code exchange
type MintRequest struct {
	UserID    uuid.UUID
	ClientID  string
	SessionID uuid.UUID
	Scope     string
	Nonce     string
	AuthTime  time.Time

	// Profile claims included in the ID token and userinfo when the
	// corresponding scopes were granted
	Email             string
	EmailVerified     bool
	PreferredUsername string
}

// AccessClaims are the registered plus custom claims carried by access
// tokens
type AccessClaims struct {
	TokenType string `json:"token_type"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IDClaims are the OpenID Connect ID token claims
type IDClaims struct {
	Nonce             string `json:"nonce,omitempty"`
	AuthTime          int64  `json:"auth_time,omitempty"`
	SessionID         string `json:"sid,omitempty"`
	AtHash            string `json:"at_hash,omitempty"`
	Email             string `json:"email,omitempty"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by the refresh token JWT. The
// signature, issuer, audience, and token_type gate redemption; the
// database row stays authoritative for rotation and revocation state.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"sid,omitempty"`
	Scope     string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}
