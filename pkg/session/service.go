package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SessionService manages browser SSO sessions: creation, validation
// with idle-expiry sliding, and revocation.
type SessionService struct {
	repository Repository
	idleTTL    time.Duration
	maxTTL     time.Duration
	rememberMe time.Duration
}

// Option configures a SessionService
type Option func(*SessionService)

// WithIdleTTL sets the sliding idle expiry window
func WithIdleTTL(d time.Duration) Option {
	return func(s *SessionService) {
		s.idleTTL = d
	}
}

// WithMaxTTL sets the default absolute expiry window
func WithMaxTTL(d time.Duration) Option {
	return func(s *SessionService) {
		s.maxTTL = d
	}
}

// WithRememberMeTTL sets the absolute expiry for remember-me sessions
func WithRememberMeTTL(d time.Duration) Option {
	return func(s *SessionService) {
		s.rememberMe = d
	}
}

// NewSessionService creates a new session service
func NewSessionService(repository Repository, opts ...Option) *SessionService {
	service := &SessionService{
		repository: repository,
		idleTTL:    30 * time.Minute,
		maxTTL:     12 * time.Hour,
		rememberMe: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Create starts a new SSO session for the user
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	now := time.Now().UTC()

	maxTTL := s.maxTTL
	if req.RememberMe {
		maxTTL = s.rememberMe
	}

	session := &Session{
		ID:             uuid.New(),
		UserID:         req.UserID,
		LastSeenAt:     now,
		IdleExpiry:     now.Add(s.idleTTL),
		AbsoluteExpiry: now.Add(maxTTL),
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		CreatedAt:      now,
	}

	created, err := s.repository.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Created SSO session", "session_id", created.ID, "user_id", req.UserID, "remember_me", req.RememberMe)
	return created, nil
}

// Validate checks the session and, when valid, slides its idle expiry
// forward. The absolute expiry is never extended.
func (s *SessionService) Validate(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	session, err := s.repository.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}

	now := time.Now().UTC()
	if !session.IsValid(now) {
		return nil, fmt.Errorf("session %s is expired or revoked", sessionID)
	}

	newIdle := now.Add(s.idleTTL)
	if newIdle.After(session.AbsoluteExpiry) {
		newIdle = session.AbsoluteExpiry
	}
	if err := s.repository.Touch(ctx, sessionID, now, newIdle); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	session.LastSeenAt = now
	session.IdleExpiry = newIdle
	return session, nil
}

// Revoke terminates a single session
func (s *SessionService) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repository.Revoke(ctx, sessionID); err != nil {
		return err
	}
	slog.Info("Revoked SSO session", "session_id", sessionID)
	return nil
}

// RevokeAllForUser terminates every active session of the user. Used by
// password change, email change, account deletion, and refresh-token
// reuse detection. Callers pair this with a refresh-token revoke and a
// back-channel notification.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repository.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	slog.Info("Revoked all SSO sessions for user", "user_id", userID, "count", count)
	return count, nil
}

// ListActiveForUser returns all currently valid sessions of the user
func (s *SessionService) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	return s.repository.ListActiveForUser(ctx, userID)
}

// DeleteExpired removes sessions past both expiries
func (s *SessionService) DeleteExpired(ctx context.Context) error {
	return s.repository.DeleteExpired(ctx)
}
