package jwks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Repository defines the interface for signing key storage. Rotate is
// the only compound mutation: implementations must deactivate the
// current active set and insert the replacement in one atomic step so
// readers never observe zero active keys.
type Repository interface {
	// GetActiveKey retrieves the currently active signing key
	GetActiveKey(ctx context.Context) (*SigningKey, error)

	// GetKeyByKid retrieves a key by its key id
	GetKeyByKid(ctx context.Context, kid string) (*SigningKey, error)

	// AddKey inserts a new key
	AddKey(ctx context.Context, key *SigningKey) error

	// Rotate atomically stamps rotated_at on all active keys,
	// deactivates them, and inserts newKey as the active key
	Rotate(ctx context.Context, newKey *SigningKey) error

	// ListPublishable returns the active key plus any key rotated at or
	// after the cutoff time
	ListPublishable(ctx context.Context, rotatedCutoff time.Time) ([]*SigningKey, error)

	// DeleteRotatedBefore prunes inactive keys rotated before the cutoff
	DeleteRotatedBefore(ctx context.Context, cutoff time.Time) error
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	keys  []SigningKey
	mutex sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory signing key repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// GetActiveKey retrieves the currently active signing key
func (r *InMemoryRepository) GetActiveKey(ctx context.Context) (*SigningKey, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, key := range r.keys {
		if key.Active {
			keyCopy := key
			return &keyCopy, nil
		}
	}
	return nil, fmt.Errorf("no active key found")
}

// GetKeyByKid retrieves a key by its key id
func (r *InMemoryRepository) GetKeyByKid(ctx context.Context, kid string) (*SigningKey, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, key := range r.keys {
		if key.Kid == kid {
			keyCopy := key
			return &keyCopy, nil
		}
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

// AddKey inserts a new key
func (r *InMemoryRepository) AddKey(ctx context.Context, key *SigningKey) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.keys {
		if existing.Kid == key.Kid {
			return fmt.Errorf("key already exists: %s", key.Kid)
		}
	}
	r.keys = append(r.keys, *key)
	return nil
}

// Rotate atomically deactivates all active keys and inserts newKey
func (r *InMemoryRepository) Rotate(ctx context.Context, newKey *SigningKey) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	for i := range r.keys {
		if r.keys[i].Active {
			r.keys[i].Active = false
			rotatedAt := now
			r.keys[i].RotatedAt = &rotatedAt
		}
	}

	keyCopy := *newKey
	keyCopy.Active = true
	r.keys = append(r.keys, keyCopy)
	return nil
}

// ListPublishable returns the active key plus keys rotated at or after the cutoff
func (r *InMemoryRepository) ListPublishable(ctx context.Context, rotatedCutoff time.Time) ([]*SigningKey, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var keys []*SigningKey
	for _, key := range r.keys {
		if key.Active || (key.RotatedAt != nil && !key.RotatedAt.Before(rotatedCutoff)) {
			keyCopy := key
			keys = append(keys, &keyCopy)
		}
	}
	return keys, nil
}

// DeleteRotatedBefore prunes inactive keys rotated before the cutoff
func (r *InMemoryRepository) DeleteRotatedBefore(ctx context.Context, cutoff time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var kept []SigningKey
	for _, key := range r.keys {
		if key.Active || key.RotatedAt == nil || !key.RotatedAt.Before(cutoff) {
			kept = append(kept, key)
		}
	}
	r.keys = kept
	return nil
}
