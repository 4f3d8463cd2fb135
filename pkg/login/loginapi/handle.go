package loginapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/classlane/idp/pkg/backchannel"
	"github.com/classlane/idp/pkg/emailcode"
	idmerrors "github.com/classlane/idp/pkg/errors"
	"github.com/classlane/idp/pkg/login"
	"github.com/classlane/idp/pkg/oidc"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/user"
)

// AuthorizeCompleter finishes a parked authorization request once the
// browser holds an authenticated session, returning the client
// redirect carrying the issued code.
type AuthorizeCompleter interface {
	ResumeAuthorize(ctx context.Context, state string, sessionID uuid.UUID) (*oidc.AuthorizeResult, error)
}

// Handle serves the JSON authentication API consumed by the hosted
// login page
type Handle struct {
	loginService *login.LoginService
	sessions     *session.SessionService
	cookies      *session.CookieWriter
	authorizer   AuthorizeCompleter
	notifier     *backchannel.Notifier
}

// Option configures a Handle
type Option func(*Handle)

// NewHandle creates the authentication API handler
func NewHandle(opts ...Option) Handle {
	h := Handle{}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// WithLoginService wires the login flow service
func WithLoginService(ls *login.LoginService) Option {
	return func(h *Handle) {
		h.loginService = ls
	}
}

// WithSessionService wires session validation and revocation
func WithSessionService(ss *session.SessionService) Option {
	return func(h *Handle) {
		h.sessions = ss
	}
}

// WithCookieWriter wires the session cookie writer
func WithCookieWriter(cw *session.CookieWriter) Option {
	return func(h *Handle) {
		h.cookies = cw
	}
}

// WithAuthorizeCompleter wires the protocol service so login can
// finish a parked /oauth2/authorize request in its response
func WithAuthorizeCompleter(ac AuthorizeCompleter) Option {
	return func(h *Handle) {
		h.authorizer = ac
	}
}

// WithBackchannelNotifier wires logout fan-out for credential changes
func WithBackchannelNotifier(n *backchannel.Notifier) Option {
	return func(h *Handle) {
		h.notifier = n
	}
}

// Routes mounts the authentication API
func (h Handle) Routes(r chi.Router) {
	r.Post("/login", h.PostLogin)
	r.Post("/logout", h.PostLogout)
	r.Post("/register", h.PostRegister)
	r.Post("/email/verify", h.PostVerifyEmail)
	r.Post("/email/resend", h.PostResendVerification)
	r.Post("/email/change", h.PostEmailChangeRequest)
	r.Post("/email/change/confirm", h.PostEmailChangeConfirm)
	r.Post("/password/reset", h.PostPasswordResetRequest)
	r.Post("/password/reset/confirm", h.PostPasswordResetConfirm)
	r.Post("/password/change", h.PostPasswordChange)
}

type loginRequestBody struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	// State ties the login back to a pending /oauth2/authorize request
	State string `json:"state,omitempty"`
}

type flowResponse struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// PostLogin authenticates credentials, starts an SSO session, and when
// the login belongs to a pending authorization resolves it, returning
// the client redirect with the issued code.
// (POST /login)
func (h Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	data := loginRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	u, sess, err := h.loginService.Login(r.Context(), login.LoginRequest{
		Login:      data.Username,
		Password:   data.Password,
		RememberMe: data.RememberMe,
		IPAddress:  ipAddressFromRequest(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		renderFlowError(w, err)
		return
	}

	h.cookies.SetCookie(w, sess)

	resp := flowResponse{OK: true, UserID: u.ID.String()}
	resp.RedirectTo = h.completeAuthorization(r.Context(), data.State, sess.ID)
	render.JSON(w, r, resp)
}

// PostLogout revokes the SSO session and clears the cookie
// (POST /logout)
func (h Handle) PostLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.cookies.ReadSessionID(r); ok {
		if err := h.sessions.Revoke(r.Context(), sessionID); err != nil {
			idmerrors.RenderError(w, idmerrors.Wrap(err, idmerrors.ErrCodeInternal, "Failed to log out"))
			return
		}
	}
	h.cookies.ClearCookie(w)
	render.JSON(w, r, flowResponse{OK: true})
}

type registerRequestBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PostRegister creates an account and emails a verification code
// (POST /register)
func (h Handle) PostRegister(w http.ResponseWriter, r *http.Request) {
	data := registerRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	u, err := h.loginService.Register(r.Context(), data.Username, data.Email, data.Password)
	if err != nil {
		renderFlowError(w, err)
		return
	}
	render.JSON(w, r, flowResponse{OK: true, UserID: u.ID.String(), Message: "Verification code sent"})
}

type verifyEmailRequestBody struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
	// State ties the verification back to a pending /oauth2/authorize
	// request
	State string `json:"state,omitempty"`
}

// PostVerifyEmail consumes a registration code. Success authenticates
// the user: it starts an SSO session and, with a pending state,
// resolves the parked authorization like PostLogin does.
// (POST /email/verify)
func (h Handle) PostVerifyEmail(w http.ResponseWriter, r *http.Request) {
	data := verifyEmailRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}
	userID, err := uuid.Parse(data.UserID)
	if err != nil {
		badRequest(w, r, "Invalid user id")
		return
	}

	if err := h.loginService.VerifyEmail(r.Context(), userID, data.Code); err != nil {
		renderFlowError(w, err)
		return
	}

	sess, err := h.sessions.Create(r.Context(), session.CreateSessionRequest{
		UserID:    userID,
		IPAddress: ipAddressFromRequest(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		idmerrors.RenderError(w, idmerrors.Wrap(err, idmerrors.ErrCodeInternal, "Failed to start session"))
		return
	}
	h.cookies.SetCookie(w, sess)

	resp := flowResponse{OK: true, Message: "Email verified", UserID: userID.String()}
	resp.RedirectTo = h.completeAuthorization(r.Context(), data.State, sess.ID)
	render.JSON(w, r, resp)
}

// PostResendVerification sends a fresh verification code
// (POST /email/resend)
func (h Handle) PostResendVerification(w http.ResponseWriter, r *http.Request) {
	data := verifyEmailRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}
	userID, err := uuid.Parse(data.UserID)
	if err != nil {
		badRequest(w, r, "Invalid user id")
		return
	}

	if err := h.loginService.ResendVerification(r.Context(), userID); err != nil {
		renderFlowError(w, err)
		return
	}
	render.JSON(w, r, flowResponse{OK: true, Message: "Verification code sent"})
}

type passwordResetRequestBody struct {
	Login string `json:"login"`
}

// PostPasswordResetRequest sends a reset code. Unknown logins get the
// same response as known ones.
// (POST /password/reset)
func (h Handle) PostPasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	data := passwordResetRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	if err := h.loginService.RequestPasswordReset(r.Context(), data.Login); err != nil {
		renderFlowError(w, err)
		return
	}
	render.JSON(w, r, flowResponse{OK: true, Message: "If the account exists, a reset code was sent"})
}

type passwordResetConfirmBody struct {
	Login       string `json:"login"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// PostPasswordResetConfirm consumes a reset code, sets the new
// password, and fans out back-channel logout to affected clients
// (POST /password/reset/confirm)
func (h Handle) PostPasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	data := passwordResetConfirmBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	clients, userID, err := h.loginService.ConfirmPasswordReset(r.Context(), data.Login, data.Code, data.NewPassword)
	if err != nil {
		renderFlowError(w, err)
		return
	}
	h.notifyClients(r, clients, userID)
	render.JSON(w, r, flowResponse{OK: true, Message: "Password updated, please sign in again"})
}

type passwordChangeBody struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PostPasswordChange requires a valid session, verifies the current
// password, and rotates credentials
// (POST /password/change)
func (h Handle) PostPasswordChange(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	data := passwordChangeBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	clients, err := h.loginService.ChangePassword(r.Context(), sess.UserID, data.CurrentPassword, data.NewPassword)
	if err != nil {
		renderFlowError(w, err)
		return
	}
	h.notifyClients(r, clients, sess.UserID)
	h.cookies.ClearCookie(w)
	render.JSON(w, r, flowResponse{OK: true, Message: "Password updated, please sign in again"})
}

type emailChangeRequestBody struct {
	NewEmail string `json:"new_email"`
}

// PostEmailChangeRequest sends a confirmation code to the proposed
// address. Requires a valid session.
// (POST /email/change)
func (h Handle) PostEmailChangeRequest(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	data := emailChangeRequestBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	if err := h.loginService.RequestEmailChange(r.Context(), sess.UserID, data.NewEmail); err != nil {
		renderFlowError(w, err)
		return
	}
	render.JSON(w, r, flowResponse{OK: true, Message: "Confirmation code sent"})
}

type emailChangeConfirmBody struct {
	Code string `json:"code"`
}

// PostEmailChangeConfirm consumes the change code and swaps the address
// (POST /email/change/confirm)
func (h Handle) PostEmailChangeConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	data := emailChangeConfirmBody{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		badRequest(w, r, "Unable to parse request body")
		return
	}

	clients, err := h.loginService.ConfirmEmailChange(r.Context(), sess.UserID, data.Code)
	if err != nil {
		renderFlowError(w, err)
		return
	}
	h.notifyClients(r, clients, sess.UserID)
	h.cookies.ClearCookie(w)
	render.JSON(w, r, flowResponse{OK: true, Message: "Email updated, please sign in again"})
}

func (h Handle) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID, ok := h.cookies.ReadSessionID(r)
	if !ok {
		unauthorized(w, r)
		return nil, false
	}
	sess, err := h.sessions.Validate(r.Context(), sessionID)
	if err != nil {
		h.cookies.ClearCookie(w)
		unauthorized(w, r)
		return nil, false
	}
	return sess, true
}

func (h Handle) notifyClients(r *http.Request, clients []string, userID uuid.UUID) {
	if h.notifier == nil || len(clients) == 0 {
		return
	}
	// Fan-out outlives the request and never delays its response
	go h.notifier.NotifyAll(context.WithoutCancel(r.Context()), clients, userID, uuid.Nil)
}

// completeAuthorization resolves a parked authorize request into the
// client redirect carrying the issued code. Failures leave the
// redirect empty; the login itself still succeeded.
func (h Handle) completeAuthorization(ctx context.Context, state string, sessionID uuid.UUID) string {
	if state == "" || h.authorizer == nil {
		return ""
	}
	result, err := h.authorizer.ResumeAuthorize(ctx, state, sessionID)
	if err != nil {
		slog.Warn("Failed to resume pending authorization", "state", state, "error", err)
		return ""
	}
	return result.RedirectURL
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

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	idmerrors.RenderError(w, idmerrors.New(idmerrors.ErrCodeInvalidInput, message))
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	idmerrors.RenderError(w, idmerrors.New(idmerrors.ErrCodeUnauthorized, "Authentication required"))
}

// renderFlowError translates service errors into the structured error
// envelope. Credential failures share one message so the endpoint does
// not leak which part was wrong.
func renderFlowError(w http.ResponseWriter, err error) {
	idmerrors.RenderError(w, classifyFlowError(err))
}

func classifyFlowError(err error) error {
	switch {
	case errors.Is(err, user.ErrInvalidCredentials):
		return idmerrors.Wrap(err, idmerrors.ErrCodeInvalidCredentials, "Invalid username or password")
	case errors.Is(err, user.ErrDuplicateUser):
		return idmerrors.Wrap(err, idmerrors.ErrCodeUserAlreadyExists, "Username or email is already taken")
	case errors.Is(err, user.ErrUserNotFound):
		return idmerrors.Wrap(err, idmerrors.ErrCodeUserNotFound, "Account not found")
	case errors.Is(err, emailcode.ErrResendCooldown):
		return idmerrors.Wrap(err, idmerrors.ErrCodeResendCooldown, "A code was sent recently, try again later")
	case errors.Is(err, emailcode.ErrTooManyAttempts):
		return idmerrors.Wrap(err, idmerrors.ErrCodeTooManyAttempts, "Too many attempts, request a new code")
	case errors.Is(err, emailcode.ErrCodeExpired):
		return idmerrors.Wrap(err, idmerrors.ErrCodeCodeExpired, "The code has expired, request a new one")
	case errors.Is(err, emailcode.ErrCodeMismatch):
		return idmerrors.Wrap(err, idmerrors.ErrCodeCodeInvalid, "Incorrect code")
	default:
		return idmerrors.Wrap(err, idmerrors.ErrCodeInvalidInput, err.Error())
	}
}
