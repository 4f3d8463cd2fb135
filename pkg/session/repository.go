package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for session storage
type Repository interface {
	// Create stores a new session
	Create(ctx context.Context, session *Session) (*Session, error)

	// GetByID retrieves a session by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// Touch updates last_seen_at and slides idle_expiry forward.
	// AbsoluteExpiry is never modified.
	Touch(ctx context.Context, id uuid.UUID, lastSeen, idleExpiry time.Time) error

	// Revoke stamps revoked_at on a single session
	Revoke(ctx context.Context, id uuid.UUID) error

	// RevokeAllForUser stamps revoked_at on every active session of the user
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error)

	// ListActiveForUser returns all valid sessions of the user
	ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]Session, error)

	// DeleteExpired removes sessions past both expiries (maintenance)
	DeleteExpired(ctx context.Context) error
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	sessions map[uuid.UUID]*Session
	mutex    sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory session repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create stores a new session
func (r *InMemoryRepository) Create(ctx context.Context, session *Session) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sessionCopy := *session
	r.sessions[session.ID] = &sessionCopy

	result := sessionCopy
	return &result, nil
}

// GetByID retrieves a session by its ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

// Touch updates last_seen_at and slides idle_expiry forward
func (r *InMemoryRepository) Touch(ctx context.Context, id uuid.UUID, lastSeen, idleExpiry time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	session.LastSeenAt = lastSeen
	session.IdleExpiry = idleExpiry
	return nil
}

// Revoke stamps revoked_at on a single session
func (r *InMemoryRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if session.RevokedAt == nil {
		now := time.Now().UTC()
		session.RevokedAt = &now
	}
	return nil
}

// RevokeAllForUser stamps revoked_at on every active session of the user
func (r *InMemoryRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, session := range r.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			revokedAt := now
			session.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

// ListActiveForUser returns all valid sessions of the user
func (r *InMemoryRepository) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	now := time.Now().UTC()
	var sessions []Session
	for _, session := range r.sessions {
		if session.UserID == userID && session.IsValid(now) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

// DeleteExpired removes sessions past both expiries
func (r *InMemoryRepository) DeleteExpired(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	for id, session := range r.sessions {
		if now.After(session.IdleExpiry) || now.After(session.AbsoluteExpiry) {
			delete(r.sessions, id)
		}
	}
	return nil
}
