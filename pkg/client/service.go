package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors surfaced to the OAuth layer, which maps them to
// RFC 6749 error codes.
var (
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrInvalidRedirectURI = errors.New("invalid redirect_uri")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrPKCERequired       = errors.New("code_challenge required for this client")
)

// ClientService provides registered relying-party lookups and client
// authentication for the token endpoint.
type ClientService struct {
	repository Repository
}

// NewClientService creates a new client service with the provided repository
func NewClientService(repository Repository) *ClientService {
	return &ClientService{
		repository: repository,
	}
}

// GetClient retrieves a client by client ID
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*Client, error) {
	client, err := s.repository.GetClient(ctx, clientID)
	if err != nil {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// ValidateAuthorizationRequest validates the client-facing parameters of
// an /authorize request: registered client, allow-listed redirect URI,
// permitted scopes, and the client's PKCE requirement.
func (s *ClientService) ValidateAuthorizationRequest(ctx context.Context, clientID, redirectURI, scope, codeChallenge string) (*Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !client.ValidateRedirectURI(redirectURI) {
		return nil, ErrInvalidRedirectURI
	}

	if scope != "" {
		if !client.ValidateScope(strings.Fields(scope)) {
			return nil, ErrInvalidScope
		}
	}

	if client.RequirePKCE && codeChallenge == "" {
		return nil, ErrPKCERequired
	}

	return client, nil
}

// AuthenticateClient verifies token-endpoint client credentials against
// the client's registered auth method. Public clients (method "none")
// must not present a secret; confidential clients must present the
// secret via the method they registered.
func (s *ClientService) AuthenticateClient(ctx context.Context, clientID, clientSecret string, viaBasicAuth bool) (*Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	switch client.TokenAuthMethod {
	case TokenAuthNone:
		if clientSecret != "" {
			return nil, ErrInvalidCredentials
		}
		return client, nil

	case TokenAuthSecretBasic:
		if !viaBasicAuth {
			return nil, ErrInvalidCredentials
		}
	case TokenAuthSecretPost:
		if viaBasicAuth {
			return nil, ErrInvalidCredentials
		}
	default:
		return nil, fmt.Errorf("unsupported token auth method: %s", client.TokenAuthMethod)
	}

	if client.SecretHash == "" || clientSecret == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// HashClientSecret produces the bcrypt hash stored for confidential clients
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}
