// Package bootstrap seeds the first admin user and an initial OAuth2
// client so a fresh deployment is usable without manual database edits.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/user"
)

// AdminConfig describes the admin account to ensure on startup. An
// empty username disables admin seeding.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// AdminResult reports what the admin seeding did
type AdminResult struct {
	UserID   string
	Username string
	// Password is only populated when it was auto-generated; it is
	// shown once so the operator can record it.
	Password        string
	Created         bool
	PasswordFromEnv bool
}

// ClientSeed describes an OAuth2 client to register on startup. An
// empty client id disables client seeding.
type ClientSeed struct {
	ClientID               string
	ClientName             string
	Secret                 string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	BackchannelLogoutURI   string
	Scopes                 []string
	RequirePKCE            bool
}

// SeedAdminUser creates the admin account unless it already exists.
// When no password is configured one is generated and returned in the
// result.
func SeedAdminUser(ctx context.Context, users *user.UserService, cfg AdminConfig) (*AdminResult, error) {
	if cfg.Username == "" {
		return &AdminResult{}, nil
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("admin email is required when admin seeding is enabled")
	}

	if existing, err := users.FindByLogin(ctx, cfg.Username); err == nil {
		slog.Info("Admin user already exists, skipping seed", "username", cfg.Username)
		return &AdminResult{UserID: existing.ID.String(), Username: existing.Username}, nil
	}

	password := cfg.Password
	generated := false
	if password == "" {
		p, err := generatePassword()
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin password: %w", err)
		}
		password = p
		generated = true
	}

	u, err := users.Register(ctx, cfg.Username, cfg.Email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	if err := users.MarkEmailVerified(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("failed to mark admin email verified: %w", err)
	}

	result := &AdminResult{
		UserID:          u.ID.String(),
		Username:        u.Username,
		Created:         true,
		PasswordFromEnv: !generated,
	}
	if generated {
		result.Password = password
	}

	slog.Info("Seeded admin user", "username", u.Username, "user_id", u.ID, "password_generated", generated)
	return result, nil
}

// SeedClient registers the OAuth2 client unless it already exists
func SeedClient(ctx context.Context, clients client.Repository, seed ClientSeed) (*client.Client, error) {
	if seed.ClientID == "" {
		return nil, nil
	}
	if len(seed.RedirectURIs) == 0 {
		return nil, fmt.Errorf("client %s needs at least one redirect uri", seed.ClientID)
	}

	if existing, err := clients.GetClient(ctx, seed.ClientID); err == nil {
		slog.Info("OAuth2 client already exists, skipping seed", "client_id", seed.ClientID)
		return existing, nil
	}

	c := &client.Client{
		ClientID:               seed.ClientID,
		ClientName:             seed.ClientName,
		ClientType:             client.ClientTypePublic,
		TokenAuthMethod:        client.TokenAuthNone,
		RequirePKCE:            seed.RequirePKCE,
		RedirectURIs:           seed.RedirectURIs,
		PostLogoutRedirectURIs: seed.PostLogoutRedirectURIs,
		BackchannelLogoutURI:   seed.BackchannelLogoutURI,
		Scopes:                 seed.Scopes,
	}
	if c.ClientName == "" {
		c.ClientName = seed.ClientID
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "profile", "email", "offline_access"}
	}
	if seed.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		c.ClientType = client.ClientTypeConfidential
		c.TokenAuthMethod = client.TokenAuthSecretBasic
		c.SecretHash = string(hash)
	}

	created, err := clients.CreateClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to seed client %s: %w", seed.ClientID, err)
	}

	slog.Info("Seeded OAuth2 client", "client_id", created.ClientID, "type", created.ClientType, "redirect_uris", strings.Join(created.RedirectURIs, ","))
	return created, nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
