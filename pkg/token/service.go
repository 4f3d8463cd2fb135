package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Redemption failure modes. The token endpoint maps both to the OAuth2
// invalid_grant error.
var (
	ErrInvalidRefreshToken  = fmt.Errorf("invalid refresh token")
	ErrRefreshReuseDetected = fmt.Errorf("refresh token reuse detected")
)

// errRotateRace signals that a concurrent redemption won the row lock
var errRotateRace = fmt.Errorf("refresh token rotated concurrently")

// Signer signs and verifies JWTs with the currently active JWK
type Signer interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// SessionRevoker terminates SSO sessions. Reuse detection revokes every
// session of the affected user.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// LogoutNotifier delivers back-channel logout tokens to clients
type LogoutNotifier interface {
	NotifyClient(ctx context.Context, clientID string, userID uuid.UUID, sessionID uuid.UUID)
}

// Profile carries the identity claims embedded in ID tokens
type Profile struct {
	Email             string
	EmailVerified     bool
	PreferredUsername string
}

// ProfileLookup resolves the ID token profile claims for a user.
// Refresh grants use it to rebuild the ID token without a user store
// dependency.
type ProfileLookup func(ctx context.Context, userID uuid.UUID) (Profile, error)

// TokenService mints token sets and drives the refresh rotation state
// machine, including reuse detection with cascading revocation.
type TokenService struct {
	repository Repository
	signer     Signer
	sessions   SessionRevoker
	notifier   LogoutNotifier
	profiles   ProfileLookup
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures a TokenService
type Option func(*TokenService)

// WithAccessTTL sets the access and ID token lifetime
func WithAccessTTL(d time.Duration) Option {
	return func(s *TokenService) {
		s.accessTTL = d
	}
}

// WithRefreshTTL sets the refresh token lifetime
func WithRefreshTTL(d time.Duration) Option {
	return func(s *TokenService) {
		s.refreshTTL = d
	}
}

// WithLogoutNotifier wires back-channel logout delivery
func WithLogoutNotifier(n LogoutNotifier) Option {
	return func(s *TokenService) {
		s.notifier = n
	}
}

// WithProfileLookup wires the profile claims source for ID tokens
// minted on refresh
func WithProfileLookup(fn ProfileLookup) Option {
	return func(s *TokenService) {
		s.profiles = fn
	}
}

// NewTokenService creates a new token service
func NewTokenService(repository Repository, signer Signer, sessions SessionRevoker, issuer string, opts ...Option) *TokenService {
	service := &TokenService{
		repository: repository,
		signer:     signer,
		sessions:   sessions,
		issuer:     issuer,
		accessTTL:  10 * time.Minute,
		refreshTTL: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Mint produces the token set for a successful authorization code
// exchange: an access token, an ID token when the openid scope was
// granted, and a refresh token when offline_access was granted.
func (s *TokenService) Mint(ctx context.Context, req MintRequest) (*TokenSet, error) {
	now := time.Now().UTC()

	accessToken, err := s.mintAccessToken(ctx, req, now)
	if err != nil {
		return nil, err
	}

	set := &TokenSet{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Scope:       req.Scope,
	}

	if hasScope(req.Scope, "openid") {
		idToken, err := s.mintIDToken(ctx, req, accessToken, now)
		if err != nil {
			return nil, err
		}
		set.IDToken = idToken
	}

	if hasScope(req.Scope, "offline_access") {
		refreshJWT, row, err := s.buildRefreshToken(ctx, req.UserID, req.ClientID, req.SessionID, req.Scope, nil, now)
		if err != nil {
			return nil, err
		}
		if err := s.repository.Create(ctx, row); err != nil {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		set.RefreshToken = refreshJWT
	}

	slog.Info("Minted token set", "user_id", req.UserID, "client_id", req.ClientID, "scope", req.Scope)
	return set, nil
}

// Refresh redeems a refresh token, rotating it. Presenting a token that
// was already rotated or revoked trips reuse detection: the whole chain
// is revoked, every SSO session of the user is terminated, and the
// client the token was issued to gets a back-channel logout.
func (s *TokenService) Refresh(ctx context.Context, refreshJWT string, clientID string) (*TokenSet, error) {
	claims, err := s.parseRefreshClaims(ctx, refreshJWT)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	jti := claims.ID
	if !claimsAudienceContains(claims.Audience, clientID) {
		slog.Warn("Refresh token audience mismatch", "jti", jti, "client_id", clientID)
		return nil, ErrInvalidRefreshToken
	}

	row, err := s.repository.GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("refresh token lookup failed: %w", err)
	}

	if row.ClientID != clientID {
		slog.Warn("Refresh token presented by wrong client", "jti", jti, "client_id", clientID)
		return nil, ErrInvalidRefreshToken
	}

	now := time.Now().UTC()
	if row.RevokedAt != nil || row.RotatedAt != nil {
		return nil, s.handleReuse(ctx, row)
	}
	if !now.Before(row.ExpiresAt) {
		if err := s.repository.Revoke(ctx, jti, ReasonExpired); err != nil {
			slog.Error("Failed to stamp expired refresh token", "jti", jti, "error", err)
		}
		return nil, ErrInvalidRefreshToken
	}

	successorJWT, successor, err := s.buildRefreshToken(ctx, row.UserID, row.ClientID, row.SessionID, row.Scope, &row.JTI, now)
	if err != nil {
		return nil, err
	}

	_, err = s.repository.Rotate(ctx, jti, successor, func(locked *RefreshToken) error {
		if !locked.Active(now) {
			return errRotateRace
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errRotateRace) {
			return nil, s.handleReuse(ctx, row)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	accessToken, err := s.mintAccessToken(ctx, MintRequest{
		UserID:    row.UserID,
		ClientID:  row.ClientID,
		SessionID: row.SessionID,
		Scope:     row.Scope,
	}, now)
	if err != nil {
		return nil, err
	}

	set := &TokenSet{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		RefreshToken: successorJWT,
		Scope:        row.Scope,
	}

	if hasScope(row.Scope, "openid") {
		idReq := MintRequest{
			UserID:    row.UserID,
			ClientID:  row.ClientID,
			SessionID: row.SessionID,
			Scope:     row.Scope,
		}
		if s.profiles != nil {
			if profile, err := s.profiles(ctx, row.UserID); err == nil {
				idReq.Email = profile.Email
				idReq.EmailVerified = profile.EmailVerified
				idReq.PreferredUsername = profile.PreferredUsername
			} else {
				slog.Warn("Failed to load profile for refreshed ID token", "user_id", row.UserID, "error", err)
			}
		}
		idToken, err := s.mintIDToken(ctx, idReq, accessToken, now)
		if err != nil {
			return nil, err
		}
		set.IDToken = idToken
	}

	slog.Info("Rotated refresh token", "user_id", row.UserID, "client_id", row.ClientID,
		"old_jti", jti, "new_jti", successor.JTI)
	return set, nil
}

// handleReuse revokes the entire rotation chain the offending token
// belongs to, terminates all SSO sessions of the user, and notifies the
// client the token was issued to.
func (s *TokenService) handleReuse(ctx context.Context, offending *RefreshToken) error {
	chain, err := s.collectChain(ctx, offending)
	if err != nil {
		slog.Error("Failed to walk refresh token chain", "jti", offending.JTI, "error", err)
	}
	for _, jti := range chain {
		if err := s.repository.Revoke(ctx, jti, ReasonRefreshReuse); err != nil {
			slog.Error("Failed to revoke chained refresh token", "jti", jti, "error", err)
		}
	}

	if s.sessions != nil {
		if count, err := s.sessions.RevokeAllForUser(ctx, offending.UserID); err != nil {
			slog.Error("Failed to revoke user sessions after reuse", "user_id", offending.UserID, "error", err)
		} else {
			slog.Warn("Refresh token reuse detected",
				"jti", offending.JTI, "user_id", offending.UserID, "client_id", offending.ClientID,
				"chain_revoked", len(chain), "sessions_revoked", count)
		}
	}

	if s.notifier != nil {
		// Delivery must not hold up the caller's HTTP response; the
		// revocations above are already committed.
		go s.notifier.NotifyClient(context.WithoutCancel(ctx), offending.ClientID, offending.UserID, offending.SessionID)
	}

	return ErrRefreshReuseDetected
}

// collectChain gathers the jtis of the whole rotation chain: ancestors
// via parent_jti and descendants via the reverse index.
func (s *TokenService) collectChain(ctx context.Context, start *RefreshToken) ([]string, error) {
	seen := map[string]bool{start.JTI: true}
	chain := []string{start.JTI}

	parent := start.ParentJTI
	for parent != nil && !seen[*parent] {
		seen[*parent] = true
		chain = append(chain, *parent)
		row, err := s.repository.GetByJTI(ctx, *parent)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				break
			}
			return chain, err
		}
		parent = row.ParentJTI
	}

	queue := []string{start.JTI}
	for len(queue) > 0 {
		jti := queue[0]
		queue = queue[1:]
		children, err := s.repository.GetChildren(ctx, jti)
		if err != nil {
			return chain, err
		}
		for _, child := range children {
			if seen[child.JTI] {
				continue
			}
			seen[child.JTI] = true
			chain = append(chain, child.JTI)
			queue = append(queue, child.JTI)
		}
	}
	return chain, nil
}

// Revoke implements RFC 7009 semantics for refresh tokens: unknown
// tokens and tokens owned by other clients succeed without effect.
// Revoking a token also revokes its descendants.
func (s *TokenService) Revoke(ctx context.Context, tokenString string, clientID string) error {
	claims, err := s.parseRefreshClaims(ctx, tokenString)
	if err != nil {
		return nil
	}
	jti := claims.ID
	row, err := s.repository.GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("refresh token lookup failed: %w", err)
	}
	if row.ClientID != clientID {
		return nil
	}

	queue := []string{jti}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if err := s.repository.Revoke(ctx, current, ReasonClientRequest); err != nil {
			return err
		}
		children, err := s.repository.GetChildren(ctx, current)
		if err != nil {
			return err
		}
		for _, child := range children {
			queue = append(queue, child.JTI)
		}
	}

	slog.Info("Revoked refresh token by client request", "jti", jti, "client_id", clientID)
	return nil
}

// RevokeAllForUser revokes every refresh token of the user and returns
// the distinct client ids that held an active one, for logout fan-out.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) ([]string, int, error) {
	clients, err := s.repository.ListActiveClientsForUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list active clients: %w", err)
	}
	count, err := s.repository.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return clients, count, nil
}

// RevokeForSession revokes the refresh tokens bound to one SSO session
// and returns the distinct client ids that held an active one. Used by
// RP-initiated logout, which terminates a single session rather than
// the whole account.
func (s *TokenService) RevokeForSession(ctx context.Context, sessionID uuid.UUID, reason string) ([]string, int, error) {
	clients, err := s.repository.ListActiveClientsForSession(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list active clients: %w", err)
	}
	count, err := s.repository.RevokeAllForSession(ctx, sessionID, reason)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to revoke session refresh tokens: %w", err)
	}
	return clients, count, nil
}

// VerifyAccessToken validates an access token signature and standard
// claims and returns its claims. Access tokens are stateless; only
// signature and expiry gate them.
func (s *TokenService) VerifyAccessToken(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, s.signer.Keyfunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	// Refresh and ID tokens share the signing key; only tokens minted
	// as access tokens may act as one.
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("token is not an access token")
	}
	return claims, nil
}

// DeleteExpired removes refresh token rows past their expiry
func (s *TokenService) DeleteExpired(ctx context.Context) (int, error) {
	return s.repository.DeleteExpired(ctx, time.Now().UTC())
}

func (s *TokenService) mintAccessToken(ctx context.Context, req MintRequest, now time.Time) (string, error) {
	claims := AccessClaims{
		TokenType: TokenTypeAccess,
		Scope:     req.Scope,
		ClientID:  req.ClientID,
		SessionID: req.SessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   req.UserID.String(),
			Audience:  jwt.ClaimStrings{req.ClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	signed, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) mintIDToken(ctx context.Context, req MintRequest, accessToken string, now time.Time) (string, error) {
	claims := IDClaims{
		Nonce:     req.Nonce,
		SessionID: req.SessionID.String(),
		AtHash:    computeAtHash(accessToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   req.UserID.String(),
			Audience:  jwt.ClaimStrings{req.ClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if !req.AuthTime.IsZero() {
		claims.AuthTime = req.AuthTime.Unix()
	}
	if hasScope(req.Scope, "email") {
		claims.Email = req.Email
		verified := req.EmailVerified
		claims.EmailVerified = &verified
	}
	if hasScope(req.Scope, "profile") {
		claims.PreferredUsername = req.PreferredUsername
	}

	signed, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}
	return signed, nil
}

// buildRefreshToken creates the durable row and its JWT carrier. The
// row is the source of truth; the JWT only transports the jti, so it
// stays redeemable after its signing key retires.
func (s *TokenService) buildRefreshToken(ctx context.Context, userID uuid.UUID, clientID string, sessionID uuid.UUID, scope string, parentJTI *string, now time.Time) (string, *RefreshToken, error) {
	row := &RefreshToken{
		JTI:       uuid.New().String(),
		UserID:    userID,
		ClientID:  clientID,
		SessionID: sessionID,
		Scope:     scope,
		ParentJTI: parentJTI,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}

	claims := RefreshClaims{
		TokenType: TokenTypeRefresh,
		ClientID:  clientID,
		SessionID: sessionID.String(),
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{clientID},
			ExpiresAt: jwt.NewNumericDate(row.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        row.JTI,
		},
	}
	signed, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, row, nil
}

// parseRefreshClaims verifies the refresh JWT's signature, issuer, and
// token_type. Expiry is deliberately left to the database row so an
// expired token can still be stamped with its revocation reason.
func (s *TokenService) parseRefreshClaims(ctx context.Context, tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, s.signer.Keyfunc(ctx)); err != nil {
		return nil, err
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("refresh token issuer mismatch")
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("token is not a refresh token")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("refresh token missing jti")
	}
	return claims, nil
}

func claimsAudienceContains(audience jwt.ClaimStrings, clientID string) bool {
	for _, aud := range audience {
		if aud == clientID {
			return true
		}
	}
	return false
}

// computeAtHash derives the OIDC at_hash claim: the base64url-encoded
// left half of the SHA-256 digest of the access token.
func computeAtHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
