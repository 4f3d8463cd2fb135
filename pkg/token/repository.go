package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTokenNotFound is returned when no row matches the jti
var ErrTokenNotFound = fmt.Errorf("refresh token not found")

// Repository defines the interface for refresh token storage. Rotate
// must be atomic: two concurrent redemptions of the same jti must not
// both observe an active row.
type Repository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// GetByJTI returns the row in any lifecycle state. Reuse detection
	// depends on seeing rotated and revoked rows.
	GetByJTI(ctx context.Context, jti string) (*RefreshToken, error)
	// Rotate locks the predecessor row, runs check against it, and when
	// check passes stamps it rotated and revoked and inserts the
	// successor in the same transaction.
	Rotate(ctx context.Context, jti string, successor *RefreshToken, check func(*RefreshToken) error) (*RefreshToken, error)
	Revoke(ctx context.Context, jti string, reason string) error
	// GetChildren returns the direct successors of the given jti
	GetChildren(ctx context.Context, parentJTI string) ([]RefreshToken, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int, error)
	RevokeAllForSession(ctx context.Context, sessionID uuid.UUID, reason string) (int, error)
	// ListActiveClientsForUser returns the distinct client ids holding
	// an active refresh token for the user
	ListActiveClientsForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	ListActiveClientsForSession(ctx context.Context, sessionID uuid.UUID) ([]string, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// InMemoryRepository implements Repository with in-memory maps
type InMemoryRepository struct {
	mutex    sync.Mutex
	tokens   map[string]*RefreshToken
	children map[string][]string
}

// NewInMemoryRepository creates a new in-memory refresh token repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tokens:   make(map[string]*RefreshToken),
		children: make(map[string][]string),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, token *RefreshToken) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.insert(token)
}

func (r *InMemoryRepository) insert(token *RefreshToken) error {
	if _, exists := r.tokens[token.JTI]; exists {
		return fmt.Errorf("refresh token %s already exists", token.JTI)
	}
	stored := *token
	r.tokens[token.JTI] = &stored
	if token.ParentJTI != nil {
		r.children[*token.ParentJTI] = append(r.children[*token.ParentJTI], token.JTI)
	}
	return nil
}

func (r *InMemoryRepository) GetByJTI(ctx context.Context, jti string) (*RefreshToken, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.tokens[jti]
	if !exists {
		return nil, ErrTokenNotFound
	}
	token := *stored
	return &token, nil
}

func (r *InMemoryRepository) Rotate(ctx context.Context, jti string, successor *RefreshToken, check func(*RefreshToken) error) (*RefreshToken, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.tokens[jti]
	if !exists {
		return nil, ErrTokenNotFound
	}

	row := *stored
	if err := check(&row); err != nil {
		return &row, err
	}

	now := time.Now().UTC()
	stored.RotatedAt = &now
	stored.RevokedAt = &now
	stored.RevokeReason = ReasonRotated
	if err := r.insert(successor); err != nil {
		return nil, err
	}
	row.RotatedAt = &now
	row.RevokedAt = &now
	row.RevokeReason = ReasonRotated
	return &row, nil
}

func (r *InMemoryRepository) Revoke(ctx context.Context, jti string, reason string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.tokens[jti]
	if !exists {
		return ErrTokenNotFound
	}
	if stored.RevokedAt == nil {
		now := time.Now().UTC()
		stored.RevokedAt = &now
		stored.RevokeReason = reason
	}
	return nil
}

func (r *InMemoryRepository) GetChildren(ctx context.Context, parentJTI string) ([]RefreshToken, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var result []RefreshToken
	for _, childJTI := range r.children[parentJTI] {
		if child, exists := r.tokens[childJTI]; exists {
			result = append(result, *child)
		}
	}
	return result, nil
}

func (r *InMemoryRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, stored := range r.tokens {
		if stored.UserID == userID && stored.RevokedAt == nil {
			stored.RevokedAt = &now
			stored.RevokeReason = reason
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) RevokeAllForSession(ctx context.Context, sessionID uuid.UUID, reason string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, stored := range r.tokens {
		if stored.SessionID == sessionID && stored.RevokedAt == nil {
			stored.RevokedAt = &now
			stored.RevokeReason = reason
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) ListActiveClientsForSession(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var clients []string
	for _, stored := range r.tokens {
		if stored.SessionID == sessionID && stored.Active(now) && !seen[stored.ClientID] {
			seen[stored.ClientID] = true
			clients = append(clients, stored.ClientID)
		}
	}
	return clients, nil
}

func (r *InMemoryRepository) ListActiveClientsForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var clients []string
	for _, stored := range r.tokens {
		if stored.UserID == userID && stored.Active(now) && !seen[stored.ClientID] {
			seen[stored.ClientID] = true
			clients = append(clients, stored.ClientID)
		}
	}
	return clients, nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for jti, stored := range r.tokens {
		if stored.ExpiresAt.Before(before) {
			delete(r.tokens, jti)
			count++
		}
	}
	return count, nil
}
