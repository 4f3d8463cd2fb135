package emailcode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCodeNotFound is returned when no live code matches
var ErrCodeNotFound = fmt.Errorf("email code not found")

// Repository defines the interface for one-time email code storage
type Repository interface {
	Create(ctx context.Context, code *EmailCode) error
	// GetLatest returns the most recent unused code for the user and
	// purpose
	GetLatest(ctx context.Context, userID uuid.UUID, purpose string) (*EmailCode, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	MarkUsed(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// InMemoryRepository implements Repository with an in-memory map
type InMemoryRepository struct {
	mutex sync.Mutex
	codes map[uuid.UUID]*EmailCode
}

// NewInMemoryRepository creates a new in-memory email code repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		codes: make(map[uuid.UUID]*EmailCode),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, code *EmailCode) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored := *code
	r.codes[code.ID] = &stored
	return nil
}

func (r *InMemoryRepository) GetLatest(ctx context.Context, userID uuid.UUID, purpose string) (*EmailCode, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var latest *EmailCode
	for _, stored := range r.codes {
		if stored.UserID != userID || stored.Purpose != purpose || stored.UsedAt != nil {
			continue
		}
		if latest == nil || stored.CreatedAt.After(latest.CreatedAt) {
			latest = stored
		}
	}
	if latest == nil {
		return nil, ErrCodeNotFound
	}
	result := *latest
	return &result, nil
}

func (r *InMemoryRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.codes[id]
	if !exists {
		return ErrCodeNotFound
	}
	stored.Attempts++
	return nil
}

func (r *InMemoryRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.codes[id]
	if !exists {
		return ErrCodeNotFound
	}
	now := time.Now().UTC()
	stored.UsedAt = &now
	return nil
}

func (r *InMemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for id, stored := range r.codes {
		if stored.ExpiresAt.Before(before) {
			delete(r.codes, id)
			count++
		}
	}
	return count, nil
}
