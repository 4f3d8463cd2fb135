package token

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresRefreshTokenRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	// Start PostgreSQL container
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	repo := NewPostgresRepository(pool)

	userID := uuid.New()
	sessionID := uuid.New()

	newToken := func(jti, clientID string) *RefreshToken {
		now := time.Now().UTC().Truncate(time.Millisecond)
		return &RefreshToken{
			JTI:       jti,
			UserID:    userID,
			ClientID:  clientID,
			SessionID: sessionID,
			Scope:     "openid profile",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newToken("jti-1", "web-app")))

		got, err := repo.GetByJTI(ctx, "jti-1")
		require.NoError(t, err)
		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, "web-app", got.ClientID)
		assert.Equal(t, "openid profile", got.Scope)
		assert.Nil(t, got.ParentJTI)
		assert.True(t, got.Active(time.Now().UTC()))
	})

	t.Run("GetUnknown", func(t *testing.T) {
		_, err := repo.GetByJTI(ctx, "no-such-jti")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("Rotate", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newToken("jti-rot-1", "web-app")))

		successor := newToken("jti-rot-2", "web-app")
		parent := "jti-rot-1"
		successor.ParentJTI = &parent

		prev, err := repo.Rotate(ctx, "jti-rot-1", successor, func(tok *RefreshToken) error {
			if !tok.Active(time.Now().UTC()) {
				return errors.New("not active")
			}
			return nil
		})
		require.NoError(t, err)
		assert.NotNil(t, prev.RotatedAt)
		assert.Equal(t, ReasonRotated, prev.RevokeReason)

		// Predecessor is dead, successor is live and linked
		got, err := repo.GetByJTI(ctx, "jti-rot-1")
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt)
		assert.Equal(t, ReasonRotated, got.RevokeReason)

		child, err := repo.GetByJTI(ctx, "jti-rot-2")
		require.NoError(t, err)
		require.NotNil(t, child.ParentJTI)
		assert.Equal(t, "jti-rot-1", *child.ParentJTI)
		assert.True(t, child.Active(time.Now().UTC()))

		children, err := repo.GetChildren(ctx, "jti-rot-1")
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "jti-rot-2", children[0].JTI)
	})

	t.Run("RotateCheckFailureLeavesRowUntouched", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newToken("jti-guard", "web-app")))

		checkErr := errors.New("rejected")
		prev, err := repo.Rotate(ctx, "jti-guard", newToken("jti-guard-2", "web-app"), func(*RefreshToken) error {
			return checkErr
		})
		assert.ErrorIs(t, err, checkErr)
		assert.Equal(t, "jti-guard", prev.JTI)

		got, err := repo.GetByJTI(ctx, "jti-guard")
		require.NoError(t, err)
		assert.Nil(t, got.RotatedAt)
		assert.Nil(t, got.RevokedAt)

		_, err = repo.GetByJTI(ctx, "jti-guard-2")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("RotateUnknown", func(t *testing.T) {
		_, err := repo.Rotate(ctx, "jti-missing", newToken("jti-missing-2", "web-app"), func(*RefreshToken) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("Revoke", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newToken("jti-revoke", "web-app")))
		require.NoError(t, repo.Revoke(ctx, "jti-revoke", ReasonClientRequest))

		got, err := repo.GetByJTI(ctx, "jti-revoke")
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt)
		assert.Equal(t, ReasonClientRequest, got.RevokeReason)

		// Revoking again does not overwrite the original reason
		require.NoError(t, repo.Revoke(ctx, "jti-revoke", ReasonLogout))
		got, err = repo.GetByJTI(ctx, "jti-revoke")
		require.NoError(t, err)
		assert.Equal(t, ReasonClientRequest, got.RevokeReason)
	})

	t.Run("ActiveClientsAndBulkRevoke", func(t *testing.T) {
		bulkUser := uuid.New()
		bulkSession := uuid.New()
		for _, tc := range []struct{ jti, clientID string }{
			{"jti-bulk-1", "web-app"},
			{"jti-bulk-2", "mobile-app"},
		} {
			tok := newToken(tc.jti, tc.clientID)
			tok.UserID = bulkUser
			tok.SessionID = bulkSession
			require.NoError(t, repo.Create(ctx, tok))
		}

		clients, err := repo.ListActiveClientsForUser(ctx, bulkUser)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"web-app", "mobile-app"}, clients)

		clients, err = repo.ListActiveClientsForSession(ctx, bulkSession)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"web-app", "mobile-app"}, clients)

		count, err := repo.RevokeAllForUser(ctx, bulkUser, ReasonCredentialEdit)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		clients, err = repo.ListActiveClientsForUser(ctx, bulkUser)
		require.NoError(t, err)
		assert.Empty(t, clients)
	})

	t.Run("RevokeAllForSession", func(t *testing.T) {
		sessUser := uuid.New()
		sessA := uuid.New()
		sessB := uuid.New()
		for _, tc := range []struct {
			jti string
			sid uuid.UUID
		}{
			{"jti-sess-a", sessA},
			{"jti-sess-b", sessB},
		} {
			tok := newToken(tc.jti, "web-app")
			tok.UserID = sessUser
			tok.SessionID = tc.sid
			require.NoError(t, repo.Create(ctx, tok))
		}

		count, err := repo.RevokeAllForSession(ctx, sessA, ReasonLogout)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		// The other session's token is untouched
		got, err := repo.GetByJTI(ctx, "jti-sess-b")
		require.NoError(t, err)
		assert.Nil(t, got.RevokedAt)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		stale := newToken("jti-stale", "web-app")
		stale.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, repo.Create(ctx, stale))

		count, err := repo.DeleteExpired(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1)

		_, err = repo.GetByJTI(ctx, "jti-stale")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}
