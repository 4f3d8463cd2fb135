package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/classlane/idp/pkg/client"
	"github.com/classlane/idp/pkg/oidc"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/token"
)

// Handle serves the OAuth2/OIDC protocol endpoints
type Handle struct {
	oidcService   *oidc.OIDCService
	clientService *client.ClientService
	tokenService  *token.TokenService
	cookies       *session.CookieWriter
}

// Option configures a Handle
type Option func(*Handle)

// NewHandle creates the protocol endpoint handler
func NewHandle(opts ...Option) Handle {
	h := Handle{}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// WithOIDCService wires the protocol orchestration service
func WithOIDCService(s *oidc.OIDCService) Option {
	return func(h *Handle) {
		h.oidcService = s
	}
}

// WithClientService wires client authentication
func WithClientService(s *client.ClientService) Option {
	return func(h *Handle) {
		h.clientService = s
	}
}

// WithTokenService wires token revocation
func WithTokenService(s *token.TokenService) Option {
	return func(h *Handle) {
		h.tokenService = s
	}
}

// WithCookieWriter wires session cookie reads
func WithCookieWriter(cw *session.CookieWriter) Option {
	return func(h *Handle) {
		h.cookies = cw
	}
}

// Routes mounts the protocol endpoints
func (h Handle) Routes(r chi.Router) {
	r.Get("/authorize", h.GetAuthorize)
	r.Get("/authorize/resume", h.GetAuthorizeResume)
	r.Post("/token", h.PostToken)
	r.Post("/revoke", h.PostRevoke)
	r.Get("/userinfo", h.GetUserinfo)
	r.Post("/userinfo", h.GetUserinfo)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
}

// GetAuthorize starts the authorization code flow
// (GET /oauth2/authorize)
func (h Handle) GetAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := oidc.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		IPAddress:           ipAddressFromRequest(r),
		UserAgent:           r.UserAgent(),
	}
	if sessionID, ok := h.cookies.ReadSessionID(r); ok {
		req.SessionID = sessionID
		req.HasSession = true
	}

	result, err := h.oidcService.Authorize(r.Context(), req)
	if err != nil {
		renderOAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// GetAuthorizeResume finishes a pending authorization after login
// (GET /oauth2/authorize/resume)
func (h Handle) GetAuthorizeResume(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	sessionID, ok := h.cookies.ReadSessionID(r)
	if !ok {
		renderOAuthError(w, r, oidc.NewOAuthError(oidc.ErrAccessDenied, "authentication required"))
		return
	}

	result, err := h.oidcService.ResumeAuthorize(r.Context(), state, sessionID)
	if err != nil {
		renderOAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// PostToken serves the authorization_code and refresh_token grants
// (POST /oauth2/token)
func (h Handle) PostToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderOAuthError(w, r, oidc.NewOAuthError(oidc.ErrInvalidRequest, "malformed form body"))
		return
	}

	authenticated, err := h.authenticateClient(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		renderOAuthError(w, r, err)
		return
	}

	var set *token.TokenSet
	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		set, err = h.oidcService.ExchangeCode(r.Context(),
			r.PostFormValue("code"),
			authenticated.ClientID,
			r.PostFormValue("redirect_uri"),
			r.PostFormValue("code_verifier"),
		)
	case "refresh_token":
		set, err = h.oidcService.RefreshGrant(r.Context(),
			r.PostFormValue("refresh_token"),
			authenticated.ClientID,
		)
	default:
		err = oidc.NewOAuthError(oidc.ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
	if err != nil {
		renderOAuthError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	render.JSON(w, r, set)
}

// PostRevoke implements RFC 7009 revocation for refresh tokens
// (POST /oauth2/revoke)
func (h Handle) PostRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderOAuthError(w, r, oidc.NewOAuthError(oidc.ErrInvalidRequest, "malformed form body"))
		return
	}

	authenticated, err := h.authenticateClient(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="revoke"`)
		renderOAuthError(w, r, err)
		return
	}

	if err := h.tokenService.Revoke(r.Context(), r.PostFormValue("token"), authenticated.ClientID); err != nil {
		renderOAuthError(w, r, oidc.NewOAuthError(oidc.ErrServerError, ""))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetUserinfo returns scope-gated claims for a bearer access token
// (GET /oauth2/userinfo)
func (h Handle) GetUserinfo(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, oidc.NewOAuthError("invalid_token", "missing bearer token"))
		return
	}

	info, err := h.oidcService.Userinfo(r.Context(), accessToken)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, oidc.NewOAuthError("invalid_token", "access token is invalid"))
		return
	}
	render.JSON(w, r, info)
}

// Logout serves RP-initiated logout
// (GET|POST /oauth2/logout)
func (h Handle) Logout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderOAuthError(w, r, oidc.NewOAuthError(oidc.ErrInvalidRequest, "malformed request"))
		return
	}

	req := oidc.LogoutRequest{
		IDTokenHint:           r.Form.Get("id_token_hint"),
		PostLogoutRedirectURI: r.Form.Get("post_logout_redirect_uri"),
		State:                 r.Form.Get("state"),
	}
	if sessionID, ok := h.cookies.ReadSessionID(r); ok {
		req.SessionID = sessionID
		req.HasSession = true
	}

	redirectURL, err := h.oidcService.Logout(r.Context(), req)
	if err != nil {
		renderOAuthError(w, r, err)
		return
	}

	h.cookies.ClearCookie(w)
	if redirectURL != "" {
		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}
	render.JSON(w, r, map[string]bool{"ok": true})
}

// authenticateClient resolves client credentials from HTTP Basic auth
// or the form body, honoring each client's registered auth method.
func (h Handle) authenticateClient(r *http.Request) (*client.Client, error) {
	clientID, clientSecret, viaBasic := r.BasicAuth()
	if !viaBasic {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}
	if clientID == "" {
		return nil, oidc.NewOAuthError(oidc.ErrInvalidClient, "client authentication required")
	}

	authenticated, err := h.clientService.AuthenticateClient(r.Context(), clientID, clientSecret, viaBasic)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) || errors.Is(err, client.ErrInvalidCredentials) {
			return nil, oidc.NewOAuthError(oidc.ErrInvalidClient, "client authentication failed")
		}
		return nil, oidc.NewOAuthError(oidc.ErrServerError, "")
	}
	return authenticated, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:]), true
	}
	return "", false
}

func renderOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *oidc.OAuthError
	if !errors.As(err, &oauthErr) {
		oauthErr = oidc.NewOAuthError(oidc.ErrServerError, "")
	}
	render.Status(r, oauthErr.HTTPStatus())
	render.JSON(w, r, oauthErr)
}

func ipAddressFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
