package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Repository defines the interface for client storage operations
type Repository interface {
	// GetClient retrieves a client by client ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// CreateClient registers a new client
	CreateClient(ctx context.Context, client *Client) (*Client, error)

	// UpdateClient replaces the stored client record
	UpdateClient(ctx context.Context, client *Client) (*Client, error)

	// DeleteClient removes a client registration
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory client repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		clients: make(map[string]*Client),
	}
}

// GetClient retrieves a client by client ID
func (r *InMemoryRepository) GetClient(ctx context.Context, clientID string) (*Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	client, exists := r.clients[clientID]
	if !exists {
		return nil, fmt.Errorf("client not found: %s", clientID)
	}
	clientCopy := *client
	return &clientCopy, nil
}

// CreateClient registers a new client
func (r *InMemoryRepository) CreateClient(ctx context.Context, client *Client) (*Client, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[client.ClientID]; exists {
		return nil, fmt.Errorf("client already exists: %s", client.ClientID)
	}

	now := time.Now().UTC()
	clientCopy := *client
	clientCopy.CreatedAt = now
	clientCopy.UpdatedAt = now
	r.clients[client.ClientID] = &clientCopy

	result := clientCopy
	return &result, nil
}

// UpdateClient replaces the stored client record
func (r *InMemoryRepository) UpdateClient(ctx context.Context, client *Client) (*Client, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, exists := r.clients[client.ClientID]
	if !exists {
		return nil, fmt.Errorf("client not found: %s", client.ClientID)
	}

	clientCopy := *client
	clientCopy.CreatedAt = existing.CreatedAt
	clientCopy.UpdatedAt = time.Now().UTC()
	r.clients[client.ClientID] = &clientCopy

	result := clientCopy
	return &result, nil
}

// DeleteClient removes a client registration
func (r *InMemoryRepository) DeleteClient(ctx context.Context, clientID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[clientID]; !exists {
		return fmt.Errorf("client not found: %s", clientID)
	}
	delete(r.clients, clientID)
	return nil
}

// ListClients returns all registered clients
func (r *InMemoryRepository) ListClients(ctx context.Context) ([]*Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	return clients, nil
}
