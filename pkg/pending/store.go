// Package pending holds in-flight /authorize requests while the browser
// completes login. Entries are process-local and TTL-bounded: losing one
// only forces a re-login and never weakens a security invariant, since
// all durable security state lives in the relational store.
package pending

import (
	"fmt"
	"sync"
	"time"
)

// Authorization is a validated /authorize request waiting for the user
// to authenticate. Keyed by the request's state parameter.
type Authorization struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	IPAddress           string
	UserAgent           string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// DefaultMaxEntries bounds the store so unauthenticated /authorize
// traffic cannot grow it without limit between janitor sweeps.
const DefaultMaxEntries = 10000

// Store is an in-memory TTL store for pending authorizations. A
// janitor goroutine sweeps expired entries.
type Store struct {
	ttl        time.Duration
	maxEntries int
	mutex      sync.RWMutex
	pending    map[string]Authorization
	done       chan struct{}
	once       sync.Once
}

// Option configures a Store
type Option func(*Store)

// WithMaxEntries overrides the entry cap
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.maxEntries = n
	}
}

// NewStore creates a pending-authorization store whose entries live for
// ttl (the authorization-code lifetime).
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		pending:    make(map[string]Authorization),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor()
	return s
}

// Put stores a pending authorization under its state value. A full
// store drops expired entries first and rejects the request if that
// does not free a slot.
func (s *Store) Put(auth Authorization) error {
	if auth.State == "" {
		return fmt.Errorf("state cannot be empty")
	}

	now := time.Now().UTC()
	auth.CreatedAt = now
	auth.ExpiresAt = now.Add(s.ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.pending[auth.State]; !exists && len(s.pending) >= s.maxEntries {
		for state, parked := range s.pending {
			if now.After(parked.ExpiresAt) {
				delete(s.pending, state)
			}
		}
		if len(s.pending) >= s.maxEntries {
			return fmt.Errorf("too many pending authorization requests")
		}
	}

	s.pending[auth.State] = auth
	return nil
}

// Get retrieves a non-expired pending authorization by state
func (s *Store) Get(state string) (*Authorization, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	auth, ok := s.pending[state]
	if !ok || time.Now().UTC().After(auth.ExpiresAt) {
		return nil, false
	}
	authCopy := auth
	return &authCopy, true
}

// Delete removes a pending authorization
func (s *Store) Delete(state string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.pending, state)
}

// Close stops the janitor goroutine
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now().UTC()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for state, auth := range s.pending {
		if now.After(auth.ExpiresAt) {
			delete(s.pending, state)
		}
	}
}
