package user

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user matches the lookup
var ErrUserNotFound = fmt.Errorf("user not found")

// ErrDuplicateUser is returned when the username or email is taken
var ErrDuplicateUser = fmt.Errorf("username or email already registered")

// Repository defines the interface for user storage
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByLogin resolves a username or email address, matched
	// case-insensitively
	GetByLogin(ctx context.Context, login string) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateEmail(ctx context.Context, id uuid.UUID, email string, verified bool) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryRepository implements Repository with an in-memory map
type InMemoryRepository struct {
	mutex sync.RWMutex
	users map[uuid.UUID]*User
}

// NewInMemoryRepository creates a new in-memory user repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: make(map[uuid.UUID]*User),
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, user *User) (*User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return nil, ErrDuplicateUser
		}
	}

	stored := *user
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.users[stored.ID] = &stored

	result := stored
	return &result, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	result := *stored
	return &result, nil
}

func (r *InMemoryRepository) GetByLogin(ctx context.Context, login string) (*User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, stored := range r.users {
		if strings.EqualFold(stored.Username, login) || strings.EqualFold(stored.Email, login) {
			result := *stored
			return &result, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *InMemoryRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	stored.PasswordHash = passwordHash
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) UpdateEmail(ctx context.Context, id uuid.UUID, email string, verified bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	stored.Email = email
	stored.EmailVerified = verified
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	stored.EmailVerified = true
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.users[id]; !exists {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}
