package backchannel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/classlane/idp/pkg/client"
)

// LogoutEventURI is the OIDC back-channel logout event claim key
const LogoutEventURI = "http://schemas.openid.net/event/backchannel-logout"

// Signer signs logout tokens with the currently active JWK
type Signer interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
}

// LogoutClaims are the claims of an OIDC logout token
type LogoutClaims struct {
	Events    map[string]struct{} `json:"events"`
	SessionID string              `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Notifier delivers back-channel logout tokens to registered clients.
// Delivery is best-effort: one POST per client with a bounded timeout,
// no retries, failures only logged.
type Notifier struct {
	clients  client.Repository
	signer   Signer
	issuer   string
	http     *http.Client
	tokenTTL time.Duration
}

// Option configures a Notifier
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client used for delivery
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		n.http = c
	}
}

// WithRequestTimeout bounds each delivery request
func WithRequestTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.http.Timeout = d
	}
}

// WithTokenTTL sets the logout token lifetime
func WithTokenTTL(d time.Duration) Option {
	return func(n *Notifier) {
		n.tokenTTL = d
	}
}

// NewNotifier creates a back-channel logout notifier
func NewNotifier(clients client.Repository, signer Signer, issuer string, opts ...Option) *Notifier {
	notifier := &Notifier{
		clients:  clients,
		signer:   signer,
		issuer:   issuer,
		http:     &http.Client{Timeout: 5 * time.Second},
		tokenTTL: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier
}

// NotifyClient delivers a logout token to a single client. Clients
// without a registered back-channel logout URI are skipped.
func (n *Notifier) NotifyClient(ctx context.Context, clientID string, userID uuid.UUID, sessionID uuid.UUID) {
	registered, err := n.clients.GetClient(ctx, clientID)
	if err != nil {
		slog.Warn("Back-channel logout skipped, client not found", "client_id", clientID, "error", err)
		return
	}
	n.deliver(ctx, registered, userID, sessionID)
}

// NotifyAll fans out a logout token to every listed client
// concurrently and waits for delivery to finish or time out.
func (n *Notifier) NotifyAll(ctx context.Context, clientIDs []string, userID uuid.UUID, sessionID uuid.UUID) {
	var wg sync.WaitGroup
	for _, clientID := range clientIDs {
		registered, err := n.clients.GetClient(ctx, clientID)
		if err != nil {
			slog.Warn("Back-channel logout skipped, client not found", "client_id", clientID, "error", err)
			continue
		}
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			n.deliver(ctx, c, userID, sessionID)
		}(registered)
	}
	wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, registered *client.Client, userID uuid.UUID, sessionID uuid.UUID) {
	if registered.BackchannelLogoutURI == "" {
		return
	}

	logoutToken, err := n.mintLogoutToken(ctx, registered.ClientID, userID, sessionID)
	if err != nil {
		slog.Error("Failed to mint logout token", "client_id", registered.ClientID, "error", err)
		return
	}

	form := url.Values{"logout_token": {logoutToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		registered.BackchannelLogoutURI, strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("Failed to build logout request", "client_id", registered.ClientID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.http.Do(req)
	if err != nil {
		slog.Warn("Back-channel logout delivery failed", "client_id", registered.ClientID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		slog.Warn("Back-channel logout rejected by client",
			"client_id", registered.ClientID, "status", resp.StatusCode)
		return
	}
	slog.Info("Delivered back-channel logout", "client_id", registered.ClientID, "user_id", userID)
}

func (n *Notifier) mintLogoutToken(ctx context.Context, clientID string, userID uuid.UUID, sessionID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := LogoutClaims{
		Events: map[string]struct{}{LogoutEventURI: {}},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    n.issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(n.tokenTTL)),
			ID:        uuid.New().String(),
		},
	}
	if sessionID != uuid.Nil {
		claims.SessionID = sessionID.String()
	}

	signed, err := n.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign logout token: %w", err)
	}
	return signed, nil
}
