package authcode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/classlane/idp/pkg/pkce"
)

// Exchange failure modes. The token endpoint maps all of these to the
// OAuth2 invalid_grant error without leaking which check failed.
var (
	ErrCodeExpired            = fmt.Errorf("authorization code expired")
	ErrCodeAlreadyUsed        = fmt.Errorf("authorization code already used")
	ErrClientMismatch         = fmt.Errorf("authorization code issued to a different client")
	ErrRedirectMismatch       = fmt.Errorf("redirect_uri does not match authorization request")
	ErrVerifierRequired       = fmt.Errorf("code_verifier is required")
	ErrVerifierNotExpected    = fmt.Errorf("code_verifier provided but no challenge was bound")
	ErrPKCEVerificationFailed = fmt.Errorf("PKCE verification failed")
)

// AuthCodeService issues and exchanges single-use authorization codes
type AuthCodeService struct {
	repository Repository
	ttl        time.Duration
}

// Option configures an AuthCodeService
type Option func(*AuthCodeService)

// WithTTL sets the code lifetime
func WithTTL(d time.Duration) Option {
	return func(s *AuthCodeService) {
		s.ttl = d
	}
}

// NewAuthCodeService creates a new authorization code service
func NewAuthCodeService(repository Repository, opts ...Option) *AuthCodeService {
	service := &AuthCodeService{
		repository: repository,
		ttl:        10 * time.Minute,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Issue mints a fresh authorization code bound to the request, stores
// its hash, and returns the plaintext code for the redirect.
func (s *AuthCodeService) Issue(ctx context.Context, req IssueRequest) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	record := &AuthorizationCode{
		CodeHash:            hashCode(code),
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		SessionID:           req.SessionID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            req.AuthTime,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}

	if err := s.repository.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	slog.Info("Issued authorization code", "client_id", req.ClientID, "user_id", req.UserID)
	return code, nil
}

// Exchange validates and consumes the code. The code is stamped used
// only when every check passes; in particular a failed PKCE
// verification leaves the code unconsumed so the client can retry with
// the correct verifier within the code's lifetime.
func (s *AuthCodeService) Exchange(ctx context.Context, req ExchangeRequest) (*AuthorizationCode, error) {
	code, err := s.repository.Consume(ctx, hashCode(req.Code), func(stored *AuthorizationCode) error {
		if stored.UsedAt != nil {
			return ErrCodeAlreadyUsed
		}
		if time.Now().UTC().After(stored.ExpiresAt) {
			return ErrCodeExpired
		}
		if subtle.ConstantTimeCompare([]byte(stored.ClientID), []byte(req.ClientID)) != 1 {
			return ErrClientMismatch
		}
		if stored.RedirectURI != req.RedirectURI {
			return ErrRedirectMismatch
		}
		return s.verifyPKCE(stored, req.CodeVerifier)
	})
	if err != nil {
		slog.Info("Authorization code exchange rejected", "client_id", req.ClientID, "reason", err)
		return nil, err
	}

	slog.Info("Exchanged authorization code", "client_id", code.ClientID, "user_id", code.UserID)
	return code, nil
}

func (s *AuthCodeService) verifyPKCE(stored *AuthorizationCode, verifier string) error {
	if stored.CodeChallenge == "" {
		if verifier != "" {
			return ErrVerifierNotExpected
		}
		return nil
	}
	if verifier == "" {
		return ErrVerifierRequired
	}
	if err := pkce.ValidateCodeVerifier(verifier, stored.CodeChallenge); err != nil {
		return ErrPKCEVerificationFailed
	}
	return nil
}

// DeleteExpired removes codes past their expiry. Used-but-unexpired
// rows stay so a replayed code is reported as used, not unknown.
func (s *AuthCodeService) DeleteExpired(ctx context.Context) (int, error) {
	return s.repository.DeleteExpired(ctx, time.Now().UTC())
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
