package backchannel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/jwks"
)

const testIssuer = "https://idp.example.com"

type logoutCapture struct {
	mutex  sync.Mutex
	tokens []string
}

func (c *logoutCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		c.mutex.Lock()
		c.tokens = append(c.tokens, r.PostFormValue("logout_token"))
		c.mutex.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *logoutCapture) received() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.tokens...)
}

func newTestSigner(t *testing.T) *jwks.JWKSService {
	t.Helper()
	encryptor, err := jwks.NewKeyEncryptor("test-encryption-secret")
	require.NoError(t, err)
	signer := jwks.NewJWKSService(jwks.NewInMemoryRepository(), encryptor)
	require.NoError(t, signer.EnsureActiveKey(context.Background()))
	return signer
}

func registerClient(t *testing.T, repo client.Repository, clientID, logoutURI string) {
	t.Helper()
	_, err := repo.CreateClient(context.Background(), &client.Client{
		ClientID:             clientID,
		ClientName:           clientID,
		ClientType:           client.ClientTypeConfidential,
		TokenAuthMethod:      client.TokenAuthSecretBasic,
		RedirectURIs:         []string{"https://" + clientID + ".example.com/callback"},
		BackchannelLogoutURI: logoutURI,
	})
	require.NoError(t, err)
}

func TestNotifier_NotifyClient(t *testing.T) {
	capture := &logoutCapture{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	repo := client.NewInMemoryRepository()
	registerClient(t, repo, "web-app", server.URL)

	signer := newTestSigner(t)
	notifier := NewNotifier(repo, signer, testIssuer)

	userID := uuid.New()
	sessionID := uuid.New()
	notifier.NotifyClient(context.Background(), "web-app", userID, sessionID)

	tokens := capture.received()
	require.Len(t, tokens, 1)

	claims := &LogoutClaims{}
	parsed, err := jwt.ParseWithClaims(tokens[0], claims, signer.Keyfunc(context.Background()),
		jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"web-app"}, claims.Audience)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Contains(t, claims.Events, LogoutEventURI)
	assert.NotEmpty(t, claims.ID)
}

func TestNotifier_NotifyAll(t *testing.T) {
	captureA := &logoutCapture{}
	captureB := &logoutCapture{}
	serverA := httptest.NewServer(captureA.handler())
	defer serverA.Close()
	serverB := httptest.NewServer(captureB.handler())
	defer serverB.Close()

	repo := client.NewInMemoryRepository()
	registerClient(t, repo, "app-a", serverA.URL)
	registerClient(t, repo, "app-b", serverB.URL)
	registerClient(t, repo, "no-backchannel", "")

	notifier := NewNotifier(repo, newTestSigner(t), testIssuer)
	notifier.NotifyAll(context.Background(), []string{"app-a", "app-b", "no-backchannel", "unknown"}, uuid.New(), uuid.New())

	assert.Len(t, captureA.received(), 1)
	assert.Len(t, captureB.received(), 1)
}

func TestNotifier_DeliveryFailuresAreSwallowed(t *testing.T) {
	repo := client.NewInMemoryRepository()
	registerClient(t, repo, "down-app", "http://127.0.0.1:1/backchannel")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no thanks", http.StatusBadRequest)
	}))
	defer failing.Close()
	registerClient(t, repo, "rejecting-app", failing.URL)

	notifier := NewNotifier(repo, newTestSigner(t), testIssuer,
		WithRequestTimeout(500*time.Millisecond))

	// Neither the unreachable nor the rejecting client panics or errors
	notifier.NotifyAll(context.Background(), []string{"down-app", "rejecting-app"}, uuid.New(), uuid.Nil)
}
