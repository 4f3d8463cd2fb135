package authcode

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Repository defines the interface for authorization code storage.
// Consume must be atomic: two concurrent exchanges of the same code
// must not both observe an unused row.
type Repository interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	// Consume looks up the code by hash under a lock, runs check
	// against the row, and stamps used_at only when check returns nil.
	// The row (possibly already used or expired) is returned either
	// way so the caller can distinguish failure modes.
	Consume(ctx context.Context, codeHash string, check func(*AuthorizationCode) error) (*AuthorizationCode, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// ErrCodeNotFound is returned when no row matches the code hash
var ErrCodeNotFound = fmt.Errorf("authorization code not found")

// InMemoryRepository implements Repository with an in-memory map
type InMemoryRepository struct {
	mutex sync.Mutex
	codes map[string]*AuthorizationCode
}

// NewInMemoryRepository creates a new in-memory authorization code repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		codes: make(map[string]*AuthorizationCode),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, code *AuthorizationCode) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.codes[code.CodeHash]; exists {
		return fmt.Errorf("authorization code already exists")
	}
	stored := *code
	r.codes[code.CodeHash] = &stored
	return nil
}

func (r *InMemoryRepository) Consume(ctx context.Context, codeHash string, check func(*AuthorizationCode) error) (*AuthorizationCode, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.codes[codeHash]
	if !exists {
		return nil, ErrCodeNotFound
	}

	row := *stored
	if err := check(&row); err != nil {
		return &row, err
	}

	now := time.Now().UTC()
	stored.UsedAt = &now
	row.UsedAt = &now
	return &row, nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for hash, code := range r.codes {
		if code.ExpiresAt.Before(before) {
			delete(r.codes, hash)
			count++
		}
	}
	return count, nil
}
