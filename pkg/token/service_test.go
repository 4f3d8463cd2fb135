package token

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlane/idp/pkg/jwks"
	"github.com/classlane/idp/pkg/session"
)

const testIssuer = "https://idp.example.com"

type capturedNotification struct {
	ClientID  string
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// fakeNotifier captures deliveries; they arrive on a goroutine, so
// access is synchronized and assertions go through await/snapshot.
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []capturedNotification
}

func (f *fakeNotifier) NotifyClient(ctx context.Context, clientID string, userID uuid.UUID, sessionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, capturedNotification{clientID, userID, sessionID})
}

func (f *fakeNotifier) snapshot() []capturedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedNotification(nil), f.notifications...)
}

func (f *fakeNotifier) await(t *testing.T, want int) []capturedNotification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications, have %d", want, len(f.snapshot()))
	return nil
}

// blockingNotifier parks delivery until release is closed.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingNotifier) NotifyClient(ctx context.Context, clientID string, userID uuid.UUID, sessionID uuid.UUID) {
	close(b.started)
	<-b.release
}

func newTestSigner(t *testing.T) *jwks.JWKSService {
	t.Helper()
	encryptor, err := jwks.NewKeyEncryptor("test-encryption-secret")
	require.NoError(t, err)
	signer := jwks.NewJWKSService(jwks.NewInMemoryRepository(), encryptor)
	require.NoError(t, signer.EnsureActiveKey(context.Background()))
	return signer
}

type tokenTestEnv struct {
	service  *TokenService
	repo     *InMemoryRepository
	sessions *session.SessionService
	notifier *fakeNotifier
	signer   *jwks.JWKSService
}

func newTokenTestEnv(t *testing.T) *tokenTestEnv {
	t.Helper()
	repo := NewInMemoryRepository()
	sessions := session.NewSessionService(session.NewInMemoryRepository())
	notifier := &fakeNotifier{}
	signer := newTestSigner(t)
	service := NewTokenService(repo, signer, sessions, testIssuer,
		WithAccessTTL(10*time.Minute),
		WithRefreshTTL(24*time.Hour),
		WithLogoutNotifier(notifier),
	)
	return &tokenTestEnv{service: service, repo: repo, sessions: sessions, notifier: notifier, signer: signer}
}

func mintTestSet(t *testing.T, env *tokenTestEnv, req MintRequest) *TokenSet {
	t.Helper()
	set, err := env.service.Mint(context.Background(), req)
	require.NoError(t, err)
	return set
}

func TestTokenService_Mint(t *testing.T) {
	env := newTokenTestEnv(t)
	userID := uuid.New()
	sessionID := uuid.New()

	t.Run("full scope", func(t *testing.T) {
		set := mintTestSet(t, env, MintRequest{
			UserID:            userID,
			ClientID:          "web-app",
			SessionID:         sessionID,
			Scope:             "openid profile email offline_access",
			Nonce:             "n-0S6_WzA2Mj",
			AuthTime:          time.Now().UTC(),
			Email:             "alice@example.com",
			EmailVerified:     true,
			PreferredUsername: "alice",
		})

		assert.Equal(t, "Bearer", set.TokenType)
		assert.Equal(t, int64(600), set.ExpiresIn)
		assert.NotEmpty(t, set.AccessToken)
		assert.NotEmpty(t, set.IDToken)
		assert.NotEmpty(t, set.RefreshToken)

		claims, err := env.service.VerifyAccessToken(context.Background(), set.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.Subject)
		assert.Equal(t, "web-app", claims.ClientID)
		assert.Equal(t, sessionID.String(), claims.SessionID)
		assert.Equal(t, "openid profile email offline_access", claims.Scope)
	})

	t.Run("no offline_access means no refresh token", func(t *testing.T) {
		set := mintTestSet(t, env, MintRequest{
			UserID:    userID,
			ClientID:  "web-app",
			SessionID: sessionID,
			Scope:     "openid",
			AuthTime:  time.Now().UTC(),
		})
		assert.Empty(t, set.RefreshToken)
		assert.NotEmpty(t, set.IDToken)
	})

	t.Run("no openid means no ID token", func(t *testing.T) {
		set := mintTestSet(t, env, MintRequest{
			UserID:    userID,
			ClientID:  "web-app",
			SessionID: sessionID,
			Scope:     "offline_access",
			AuthTime:  time.Now().UTC(),
		})
		assert.Empty(t, set.IDToken)
		assert.NotEmpty(t, set.RefreshToken)
	})
}

func TestTokenService_Refresh(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()
	mintReq := MintRequest{
		UserID:    userID,
		ClientID:  "web-app",
		SessionID: sessionID,
		Scope:     "openid offline_access",
		AuthTime:  time.Now().UTC(),
	}

	t.Run("rotation returns a new pair and retires the old token", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)

		rotated, err := env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.NoError(t, err)
		assert.NotEmpty(t, rotated.AccessToken)
		assert.NotEmpty(t, rotated.RefreshToken)
		assert.NotEqual(t, set.RefreshToken, rotated.RefreshToken)

		// The new token redeems fine
		_, err = env.service.Refresh(context.Background(), rotated.RefreshToken, "web-app")
		assert.NoError(t, err)
	})

	t.Run("wrong client rejected without cascade", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)

		_, err := env.service.Refresh(context.Background(), set.RefreshToken, "other-client")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
		assert.Empty(t, env.notifier.snapshot())

		// Still redeemable by the right client
		_, err = env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		assert.NoError(t, err)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		env := newTokenTestEnv(t)
		_, err := env.service.Refresh(context.Background(), "not-a-jwt", "web-app")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("tampered signature rejected", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)
		other := mintTestSet(t, env, mintReq)

		// Splice a signature from a different token onto this payload.
		parts := strings.Split(set.RefreshToken, ".")
		require.Len(t, parts, 3)
		otherParts := strings.Split(other.RefreshToken, ".")
		require.Len(t, otherParts, 3)
		forged := parts[0] + "." + parts[1] + "." + otherParts[2]

		_, err := env.service.Refresh(context.Background(), forged, "web-app")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)

		// The genuine token is untouched by the forged attempt
		_, err = env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		assert.NoError(t, err)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)

		_, err := env.service.Refresh(context.Background(), set.AccessToken, "web-app")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("expired token is stamped and rejected", func(t *testing.T) {
		env := newTokenTestEnv(t)
		short := NewTokenService(env.repo, env.signer, env.sessions, testIssuer,
			WithRefreshTTL(-time.Minute))
		set, err := short.Mint(context.Background(), MintRequest{
			UserID: userID, ClientID: "web-app", SessionID: sessionID,
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)

		_, err = env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)

		claims, err := env.service.parseRefreshClaims(context.Background(), set.RefreshToken)
		require.NoError(t, err)
		row, err := env.repo.GetByJTI(context.Background(), claims.ID)
		require.NoError(t, err)
		require.NotNil(t, row.RevokedAt)
		assert.Equal(t, ReasonExpired, row.RevokeReason)
	})

	t.Run("openid scope mints a fresh ID token", func(t *testing.T) {
		repo := NewInMemoryRepository()
		sessions := session.NewSessionService(session.NewInMemoryRepository())
		service := NewTokenService(repo, newTestSigner(t), sessions, testIssuer,
			WithRefreshTTL(24*time.Hour),
			WithProfileLookup(func(ctx context.Context, id uuid.UUID) (Profile, error) {
				return Profile{Email: "alice@example.com", EmailVerified: true, PreferredUsername: "alice"}, nil
			}),
		)

		set, err := service.Mint(context.Background(), mintReq)
		require.NoError(t, err)

		rotated, err := service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.NoError(t, err)
		require.NotEmpty(t, rotated.IDToken)

		claims := jwt.MapClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(rotated.IDToken, claims)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", claims["email"])
		assert.Equal(t, userID.String(), claims["sub"])
	})

	t.Run("scope without openid skips the ID token", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, MintRequest{
			UserID: userID, ClientID: "web-app", SessionID: sessionID,
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})

		rotated, err := env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.NoError(t, err)
		assert.Empty(t, rotated.IDToken)
	})
}

func TestTokenService_ReuseDetection(t *testing.T) {
	userID := uuid.New()

	newSessionFor := func(t *testing.T, env *tokenTestEnv) *session.Session {
		sess, err := env.sessions.Create(context.Background(), session.CreateSessionRequest{UserID: userID})
		require.NoError(t, err)
		return sess
	}

	t.Run("replaying a rotated token revokes the chain, sessions, and notifies the client", func(t *testing.T) {
		env := newTokenTestEnv(t)
		sess := newSessionFor(t, env)

		set := mintTestSet(t, env, MintRequest{
			UserID:    userID,
			ClientID:  "web-app",
			SessionID: sess.ID,
			Scope:     "openid offline_access",
			AuthTime:  time.Now().UTC(),
		})

		// Build a chain: original -> second -> third
		second, err := env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.NoError(t, err)
		third, err := env.service.Refresh(context.Background(), second.RefreshToken, "web-app")
		require.NoError(t, err)

		// Replay the already-rotated second token
		_, err = env.service.Refresh(context.Background(), second.RefreshToken, "web-app")
		require.ErrorIs(t, err, ErrRefreshReuseDetected)

		// The chain head is dead too
		_, err = env.service.Refresh(context.Background(), third.RefreshToken, "web-app")
		assert.ErrorIs(t, err, ErrRefreshReuseDetected)

		// Every session of the user is gone
		_, err = env.sessions.Validate(context.Background(), sess.ID)
		assert.Error(t, err)

		// Only the offending client was notified
		got := env.notifier.await(t, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "web-app", got[0].ClientID)
		assert.Equal(t, userID, got[0].UserID)
	})

	t.Run("other clients' tokens survive a reuse cascade", func(t *testing.T) {
		env := newTokenTestEnv(t)
		sess := newSessionFor(t, env)

		webSet := mintTestSet(t, env, MintRequest{
			UserID: userID, ClientID: "web-app", SessionID: sess.ID,
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})
		mobileSet := mintTestSet(t, env, MintRequest{
			UserID: userID, ClientID: "mobile-app", SessionID: sess.ID,
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})

		rotated, err := env.service.Refresh(context.Background(), webSet.RefreshToken, "web-app")
		require.NoError(t, err)
		_ = rotated

		_, err = env.service.Refresh(context.Background(), webSet.RefreshToken, "web-app")
		require.ErrorIs(t, err, ErrRefreshReuseDetected)

		// The mobile client's separate chain is untouched
		_, err = env.service.Refresh(context.Background(), mobileSet.RefreshToken, "mobile-app")
		assert.NoError(t, err)

		got := env.notifier.await(t, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "web-app", got[0].ClientID)
	})

	t.Run("reuse response does not wait on notification delivery", func(t *testing.T) {
		repo := NewInMemoryRepository()
		sessions := session.NewSessionService(session.NewInMemoryRepository())
		blocker := &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
		service := NewTokenService(repo, newTestSigner(t), sessions, testIssuer,
			WithRefreshTTL(24*time.Hour),
			WithLogoutNotifier(blocker),
		)

		set, err := service.Mint(context.Background(), MintRequest{
			UserID: userID, ClientID: "web-app", SessionID: uuid.New(),
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)

		_, err = service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.NoError(t, err)

		// The replay must fail immediately even though the notifier is
		// parked on an unbuffered channel.
		_, err = service.Refresh(context.Background(), set.RefreshToken, "web-app")
		require.ErrorIs(t, err, ErrRefreshReuseDetected)

		select {
		case <-blocker.started:
		case <-time.After(2 * time.Second):
			t.Fatal("notification was never dispatched")
		}
		close(blocker.release)
	})
}

func TestTokenService_Revoke(t *testing.T) {
	userID := uuid.New()
	mintReq := MintRequest{
		UserID:    userID,
		ClientID:  "web-app",
		SessionID: uuid.New(),
		Scope:     "offline_access",
		AuthTime:  time.Now().UTC(),
	}

	t.Run("revoked token no longer redeems", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)

		require.NoError(t, env.service.Revoke(context.Background(), set.RefreshToken, "web-app"))

		_, err := env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		assert.ErrorIs(t, err, ErrRefreshReuseDetected)
	})

	t.Run("unknown token succeeds silently", func(t *testing.T) {
		env := newTokenTestEnv(t)
		assert.NoError(t, env.service.Revoke(context.Background(), "not-a-jwt", "web-app"))
	})

	t.Run("wrong client succeeds without effect", func(t *testing.T) {
		env := newTokenTestEnv(t)
		set := mintTestSet(t, env, mintReq)

		require.NoError(t, env.service.Revoke(context.Background(), set.RefreshToken, "other-client"))

		_, err := env.service.Refresh(context.Background(), set.RefreshToken, "web-app")
		assert.NoError(t, err)
	})
}

func TestTokenService_RevokeAllForUser(t *testing.T) {
	env := newTokenTestEnv(t)
	userID := uuid.New()

	for _, client := range []string{"web-app", "mobile-app"} {
		mintTestSet(t, env, MintRequest{
			UserID: userID, ClientID: client, SessionID: uuid.New(),
			Scope: "offline_access", AuthTime: time.Now().UTC(),
		})
	}

	clients, count, err := env.service.RevokeAllForUser(context.Background(), userID, ReasonLogout)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"web-app", "mobile-app"}, clients)
}

func TestTokenService_VerifyAccessToken(t *testing.T) {
	env := newTokenTestEnv(t)

	t.Run("expired token rejected", func(t *testing.T) {
		short := NewTokenService(env.repo, env.signer, env.sessions, testIssuer, WithAccessTTL(-time.Minute))
		set, err := short.Mint(context.Background(), MintRequest{
			UserID: uuid.New(), ClientID: "web-app", SessionID: uuid.New(),
			Scope: "openid", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)

		_, err = env.service.VerifyAccessToken(context.Background(), set.AccessToken)
		assert.Error(t, err)
	})

	t.Run("wrong issuer rejected", func(t *testing.T) {
		other := NewTokenService(env.repo, env.signer, env.sessions, "https://other.example.com")
		set, err := other.Mint(context.Background(), MintRequest{
			UserID: uuid.New(), ClientID: "web-app", SessionID: uuid.New(),
			Scope: "openid", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)

		_, err = env.service.VerifyAccessToken(context.Background(), set.AccessToken)
		assert.Error(t, err)
	})

	t.Run("refresh token rejected as bearer credential", func(t *testing.T) {
		set, err := env.service.Mint(context.Background(), MintRequest{
			UserID: uuid.New(), ClientID: "web-app", SessionID: uuid.New(),
			Scope: "openid offline_access", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)

		_, err = env.service.VerifyAccessToken(context.Background(), set.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("ID token rejected as bearer credential", func(t *testing.T) {
		set, err := env.service.Mint(context.Background(), MintRequest{
			UserID: uuid.New(), ClientID: "web-app", SessionID: uuid.New(),
			Scope: "openid", AuthTime: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.NotEmpty(t, set.IDToken)

		_, err = env.service.VerifyAccessToken(context.Background(), set.IDToken)
		assert.Error(t, err)
	})
}
