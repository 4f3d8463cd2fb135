package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/classlane/idp/pkg/authcode"
	"github.com/classlane/idp/pkg/backchannel"
	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/jwks"
	"github.com/classlane/idp/pkg/pending"
	"github.com/classlane/idp/pkg/pkce"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/token"
	"github.com/classlane/idp/pkg/user"
)

// OIDCService orchestrates the protocol endpoints: authorization,
// token exchange, userinfo, and RP-initiated logout.
type OIDCService struct {
	clients  *client.ClientService
	codes    *authcode.AuthCodeService
	tokens   *token.TokenService
	sessions *session.SessionService
	users    *user.UserService
	pending  *pending.Store
	notifier *backchannel.Notifier
	keys     *jwks.JWKSService
	issuer   string
	loginURL string
}

// Config wires the collaborating services
type Config struct {
	Clients  *client.ClientService
	Codes    *authcode.AuthCodeService
	Tokens   *token.TokenService
	Sessions *session.SessionService
	Users    *user.UserService
	Pending  *pending.Store
	Notifier *backchannel.Notifier
	Keys     *jwks.JWKSService
	Issuer   string
	LoginURL string
}

// NewOIDCService creates the protocol orchestration service
func NewOIDCService(cfg Config) *OIDCService {
	return &OIDCService{
		clients:  cfg.Clients,
		codes:    cfg.Codes,
		tokens:   cfg.Tokens,
		sessions: cfg.Sessions,
		users:    cfg.Users,
		pending:  cfg.Pending,
		notifier: cfg.Notifier,
		keys:     cfg.Keys,
		issuer:   cfg.Issuer,
		loginURL: cfg.LoginURL,
	}
}

// AuthorizeRequest carries the /oauth2/authorize query parameters plus
// the request context
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	SessionID           uuid.UUID
	HasSession          bool
	IPAddress           string
	UserAgent           string
}

// AuthorizeResult tells the handler where to send the browser
type AuthorizeResult struct {
	RedirectURL string
}

// Authorize validates the authorization request. With a valid SSO
// session it issues a code and redirects back to the client; otherwise
// the request parks in the pending store and the browser goes to the
// login page. Requests with an unverifiable client or redirect URI
// return an error instead of a redirect, everything else reports
// failure on the client's redirect URI.
func (s *OIDCService) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	registered, err := s.clients.ValidateAuthorizationRequest(ctx, req.ClientID, req.RedirectURI, req.Scope, req.CodeChallenge)
	if err != nil {
		switch {
		case errors.Is(err, client.ErrClientNotFound), errors.Is(err, client.ErrInvalidRedirectURI):
			// Never redirect to an unverified URI
			return nil, NewOAuthError(ErrInvalidRequest, "unknown client or redirect_uri")
		case errors.Is(err, client.ErrInvalidScope):
			return s.errorRedirect(req, ErrInvalidScope, "requested scope is not allowed"), nil
		case errors.Is(err, client.ErrPKCERequired):
			return s.errorRedirect(req, ErrInvalidRequest, "code_challenge is required for this client"), nil
		default:
			return s.errorRedirect(req, ErrServerError, ""), nil
		}
	}

	if req.ResponseType != "code" {
		return s.errorRedirect(req, ErrUnsupportedResponseType, "only the authorization code flow is supported"), nil
	}
	if req.State == "" {
		return s.errorRedirect(req, ErrInvalidRequest, "state is required"), nil
	}
	if req.CodeChallenge != "" && !pkce.IsValidChallengeMethod(req.CodeChallengeMethod) {
		return s.errorRedirect(req, ErrInvalidRequest, "code_challenge_method must be S256"), nil
	}

	if req.HasSession {
		if sess, err := s.sessions.Validate(ctx, req.SessionID); err == nil {
			return s.issueCodeRedirect(ctx, req, sess)
		}
	}

	if err := s.pending.Put(pending.Authorization{
		ClientID:            registered.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
	}); err != nil {
		return s.errorRedirect(req, ErrInvalidRequest, err.Error()), nil
	}

	loginURL := s.loginURL
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return &AuthorizeResult{
		RedirectURL: loginURL + sep + url.Values{"state": {req.State}}.Encode(),
	}, nil
}

// ResumeAuthorize finishes a pending authorization after login. The
// session must belong to the browser that just authenticated.
func (s *OIDCService) ResumeAuthorize(ctx context.Context, state string, sessionID uuid.UUID) (*AuthorizeResult, error) {
	parked, ok := s.pending.Get(state)
	if !ok {
		return nil, NewOAuthError(ErrInvalidRequest, "unknown or expired authorization request")
	}

	sess, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, NewOAuthError(ErrAccessDenied, "authentication required")
	}

	// The registration may have changed while the request was parked;
	// never trust the stored parameters past the client's current state.
	if _, err := s.clients.ValidateAuthorizationRequest(ctx, parked.ClientID, parked.RedirectURI, parked.Scope, parked.CodeChallenge); err != nil {
		s.pending.Delete(state)
		return nil, NewOAuthError(ErrInvalidRequest, "authorization request is no longer valid")
	}

	req := AuthorizeRequest{
		ClientID:            parked.ClientID,
		RedirectURI:         parked.RedirectURI,
		Scope:               parked.Scope,
		State:               parked.State,
		Nonce:               parked.Nonce,
		CodeChallenge:       parked.CodeChallenge,
		CodeChallengeMethod: parked.CodeChallengeMethod,
	}
	result, err := s.issueCodeRedirect(ctx, req, sess)
	if err == nil {
		s.pending.Delete(state)
	}
	return result, err
}

func (s *OIDCService) issueCodeRedirect(ctx context.Context, req AuthorizeRequest, sess *session.Session) (*AuthorizeResult, error) {
	code, err := s.codes.Issue(ctx, authcode.IssueRequest{
		ClientID:            req.ClientID,
		UserID:              sess.UserID,
		SessionID:           sess.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            sess.CreatedAt,
	})
	if err != nil {
		slog.Error("Failed to issue authorization code", "client_id", req.ClientID, "error", err)
		return s.errorRedirect(req, ErrServerError, ""), nil
	}

	return &AuthorizeResult{
		RedirectURL: appendQuery(req.RedirectURI, url.Values{
			"code":  {code},
			"state": {req.State},
		}),
	}, nil
}

func (s *OIDCService) errorRedirect(req AuthorizeRequest, code, description string) *AuthorizeResult {
	values := url.Values{"error": {code}}
	if description != "" {
		values.Set("error_description", description)
	}
	if req.State != "" {
		values.Set("state", req.State)
	}
	return &AuthorizeResult{RedirectURL: appendQuery(req.RedirectURI, values)}
}

// ExchangeCode redeems an authorization code for a token set
func (s *OIDCService) ExchangeCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*token.TokenSet, error) {
	grant, err := s.codes.Exchange(ctx, authcode.ExchangeRequest{
		Code:         code,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		CodeVerifier: codeVerifier,
	})
	if err != nil {
		return nil, NewOAuthError(ErrInvalidGrant, "authorization code is invalid")
	}

	u, err := s.users.GetUser(ctx, grant.UserID)
	if err != nil {
		slog.Error("Authorization code references missing user", "user_id", grant.UserID, "error", err)
		return nil, NewOAuthError(ErrServerError, "")
	}

	set, err := s.tokens.Mint(ctx, token.MintRequest{
		UserID:            u.ID,
		ClientID:          clientID,
		SessionID:         grant.SessionID,
		Scope:             grant.Scope,
		Nonce:             grant.Nonce,
		AuthTime:          grant.AuthTime,
		Email:             u.Email,
		EmailVerified:     u.EmailVerified,
		PreferredUsername: u.Username,
	})
	if err != nil {
		slog.Error("Failed to mint token set", "client_id", clientID, "error", err)
		return nil, NewOAuthError(ErrServerError, "")
	}
	return set, nil
}

// RefreshGrant redeems a refresh token
func (s *OIDCService) RefreshGrant(ctx context.Context, refreshToken, clientID string) (*token.TokenSet, error) {
	set, err := s.tokens.Refresh(ctx, refreshToken, clientID)
	if err != nil {
		if errors.Is(err, token.ErrInvalidRefreshToken) || errors.Is(err, token.ErrRefreshReuseDetected) {
			return nil, NewOAuthError(ErrInvalidGrant, "refresh token is invalid")
		}
		slog.Error("Refresh grant failed", "client_id", clientID, "error", err)
		return nil, NewOAuthError(ErrServerError, "")
	}
	return set, nil
}

// Userinfo returns the claims for a bearer access token, gated by the
// token's granted scopes
func (s *OIDCService) Userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	claims, err := s.tokens.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unknown user: %w", err)
	}

	info := map[string]any{"sub": u.ID.String()}
	if hasScope(claims.Scope, "email") {
		info["email"] = u.Email
		info["email_verified"] = u.EmailVerified
	}
	if hasScope(claims.Scope, "profile") {
		info["preferred_username"] = u.Username
	}
	return info, nil
}

// LogoutRequest carries the RP-initiated logout parameters
type LogoutRequest struct {
	IDTokenHint           string
	PostLogoutRedirectURI string
	State                 string
	SessionID             uuid.UUID
	HasSession            bool
}

// Logout terminates the SSO session, revokes the refresh tokens bound
// to it, fans out back-channel logout, and returns the validated
// post-logout redirect (empty when none applies).
func (s *OIDCService) Logout(ctx context.Context, req LogoutRequest) (string, error) {
	var hintClient *client.Client
	var hintSID uuid.UUID

	if req.IDTokenHint != "" {
		aud, sid, err := s.parseIDTokenHint(ctx, req.IDTokenHint)
		if err != nil {
			return "", NewOAuthError(ErrInvalidRequest, "id_token_hint is invalid")
		}
		hintSID = sid
		if registered, err := s.clients.GetClient(ctx, aud); err == nil {
			hintClient = registered
		}
	}

	redirectURL := ""
	if req.PostLogoutRedirectURI != "" {
		if hintClient == nil || !hintClient.ValidatePostLogoutRedirectURI(req.PostLogoutRedirectURI) {
			return "", NewOAuthError(ErrInvalidRequest, "post_logout_redirect_uri is not registered")
		}
		values := url.Values{}
		if req.State != "" {
			values.Set("state", req.State)
		}
		redirectURL = appendQuery(req.PostLogoutRedirectURI, values)
	}

	sessionID := req.SessionID
	if !req.HasSession {
		sessionID = hintSID
	}
	if sessionID == uuid.Nil {
		return redirectURL, nil
	}

	sess, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		// Already gone; logout is idempotent
		return redirectURL, nil
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		slog.Error("Failed to revoke session on logout", "session_id", sessionID, "error", err)
	}

	clients, _, err := s.tokens.RevokeForSession(ctx, sessionID, token.ReasonLogout)
	if err != nil {
		slog.Error("Failed to revoke session tokens on logout", "session_id", sessionID, "error", err)
	}
	if s.notifier != nil && len(clients) > 0 {
		// The revocations above are committed; delivery must not hold
		// up the logout response.
		go s.notifier.NotifyAll(context.WithoutCancel(ctx), clients, sess.UserID, sessionID)
	}

	slog.Info("Completed RP-initiated logout", "session_id", sessionID, "user_id", sess.UserID, "clients_notified", len(clients))
	return redirectURL, nil
}

// parseIDTokenHint verifies the hint signature but tolerates an expired
// token, since logout commonly arrives after the ID token expired.
func (s *OIDCService) parseIDTokenHint(ctx context.Context, hint string) (aud string, sid uuid.UUID, err error) {
	claims := &token.IDClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(hint, claims, s.keys.Keyfunc(ctx)); err != nil {
		return "", uuid.Nil, err
	}
	if claims.Issuer != s.issuer {
		return "", uuid.Nil, fmt.Errorf("id_token_hint issuer mismatch")
	}
	if len(claims.Audience) > 0 {
		aud = claims.Audience[0]
	}
	if claims.SessionID != "" {
		if parsed, err := uuid.Parse(claims.SessionID); err == nil {
			sid = parsed
		}
	}
	return aud, sid, nil
}

func appendQuery(rawURL string, values url.Values) string {
	if len(values) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + values.Encode()
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// DeleteExpiredArtifacts sweeps expired codes and refresh token rows.
// Intended to run periodically from the server loop.
func (s *OIDCService) DeleteExpiredArtifacts(ctx context.Context) {
	if n, err := s.codes.DeleteExpired(ctx); err != nil {
		slog.Error("Failed to sweep expired authorization codes", "error", err)
	} else if n > 0 {
		slog.Info("Swept expired authorization codes", "count", n)
	}
	if n, err := s.tokens.DeleteExpired(ctx); err != nil {
		slog.Error("Failed to sweep expired refresh tokens", "error", err)
	} else if n > 0 {
		slog.Info("Swept expired refresh tokens", "count", n)
	}
}
