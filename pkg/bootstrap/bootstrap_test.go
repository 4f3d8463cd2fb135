package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/user"
)

func TestSeedAdminUser(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		users := user.NewUserService(user.NewInMemoryRepository())
		result, err := SeedAdminUser(ctx, users, AdminConfig{})
		require.NoError(t, err)
		assert.False(t, result.Created)
	})

	t.Run("GeneratesPassword", func(t *testing.T) {
		users := user.NewUserService(user.NewInMemoryRepository())
		result, err := SeedAdminUser(ctx, users, AdminConfig{
			Username: "admin",
			Email:    "admin@example.com",
		})
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.False(t, result.PasswordFromEnv)
		require.NotEmpty(t, result.Password)

		// The generated password actually works
		_, err = users.Authenticate(ctx, "admin", result.Password)
		assert.NoError(t, err)

		// The seeded account is usable for login flows right away
		u, err := users.FindByLogin(ctx, "admin")
		require.NoError(t, err)
		assert.True(t, u.EmailVerified)
	})

	t.Run("ConfiguredPassword", func(t *testing.T) {
		users := user.NewUserService(user.NewInMemoryRepository())
		result, err := SeedAdminUser(ctx, users, AdminConfig{
			Username: "admin",
			Email:    "admin@example.com",
			Password: "from-the-environment",
		})
		require.NoError(t, err)
		assert.True(t, result.PasswordFromEnv)
		assert.Empty(t, result.Password)
	})

	t.Run("Idempotent", func(t *testing.T) {
		users := user.NewUserService(user.NewInMemoryRepository())
		cfg := AdminConfig{Username: "admin", Email: "admin@example.com", Password: "from-the-environment"}

		first, err := SeedAdminUser(ctx, users, cfg)
		require.NoError(t, err)
		second, err := SeedAdminUser(ctx, users, cfg)
		require.NoError(t, err)
		assert.True(t, first.Created)
		assert.False(t, second.Created)
		assert.Equal(t, first.UserID, second.UserID)
	})

	t.Run("MissingEmail", func(t *testing.T) {
		users := user.NewUserService(user.NewInMemoryRepository())
		_, err := SeedAdminUser(ctx, users, AdminConfig{Username: "admin"})
		assert.Error(t, err)
	})
}

func TestSeedClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		repo := client.NewInMemoryRepository()
		created, err := SeedClient(ctx, repo, ClientSeed{})
		require.NoError(t, err)
		assert.Nil(t, created)
	})

	t.Run("PublicClient", func(t *testing.T) {
		repo := client.NewInMemoryRepository()
		created, err := SeedClient(ctx, repo, ClientSeed{
			ClientID:     "spa",
			RedirectURIs: []string{"https://spa.example.com/cb"},
			RequirePKCE:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, client.ClientTypePublic, created.ClientType)
		assert.Equal(t, client.TokenAuthNone, created.TokenAuthMethod)
		assert.True(t, created.RequirePKCE)
		assert.Equal(t, []string{"openid", "profile", "email", "offline_access"}, created.Scopes)
	})

	t.Run("ConfidentialClient", func(t *testing.T) {
		repo := client.NewInMemoryRepository()
		created, err := SeedClient(ctx, repo, ClientSeed{
			ClientID:     "backend",
			Secret:       "s3cret-value",
			RedirectURIs: []string{"https://backend.example.com/cb"},
		})
		require.NoError(t, err)
		assert.Equal(t, client.ClientTypeConfidential, created.ClientType)
		assert.Equal(t, client.TokenAuthSecretBasic, created.TokenAuthMethod)
		assert.NotEmpty(t, created.SecretHash)
		assert.NotContains(t, created.SecretHash, "s3cret-value")

		// Seeding again leaves the registration alone
		again, err := SeedClient(ctx, repo, ClientSeed{
			ClientID:     "backend",
			Secret:       "different",
			RedirectURIs: []string{"https://elsewhere.example.com/cb"},
		})
		require.NoError(t, err)
		assert.Equal(t, created.SecretHash, again.SecretHash)
	})

	t.Run("MissingRedirectURI", func(t *testing.T) {
		repo := client.NewInMemoryRepository()
		_, err := SeedClient(ctx, repo, ClientSeed{ClientID: "spa"})
		assert.Error(t, err)
	})
}
