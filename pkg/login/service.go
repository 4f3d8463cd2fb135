package login

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classlane/idp/pkg/emailcode"
	"github.com/classlane/idp/pkg/notification"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/token"
	"github.com/classlane/idp/pkg/user"
)

// LoginService orchestrates authentication flows: login, registration,
// email verification, password reset and change, email change. It owns
// the fan-out to sessions, tokens, and notifications those flows
// require.
type LoginService struct {
	users    *user.UserService
	sessions *session.SessionService
	tokens   *token.TokenService
	codes    *emailcode.CodeService
	notifier notification.Notifier
	codeTTL  time.Duration
}

// Option configures a LoginService
type Option func(*LoginService)

// WithNotifier wires email delivery for codes and notices
func WithNotifier(n notification.Notifier) Option {
	return func(s *LoginService) {
		s.notifier = n
	}
}

// WithCodeTTL is used to render the expiry hint in notices
func WithCodeTTL(d time.Duration) Option {
	return func(s *LoginService) {
		s.codeTTL = d
	}
}

// NewLoginService creates a new login service
func NewLoginService(users *user.UserService, sessions *session.SessionService, tokens *token.TokenService, codes *emailcode.CodeService, opts ...Option) *LoginService {
	service := &LoginService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		codes:    codes,
		codeTTL:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// LoginRequest carries the credentials and request context for a login
type LoginRequest struct {
	Login      string
	Password   string
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// Login authenticates the credentials and starts an SSO session
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*user.User, *session.Session, error) {
	u, err := s.users.Authenticate(ctx, req.Login, req.Password)
	if err != nil {
		slog.Info("Login failed", "login", req.Login, "ip", req.IPAddress)
		return nil, nil, err
	}

	sess, err := s.sessions.Create(ctx, session.CreateSessionRequest{
		UserID:     u.ID,
		RememberMe: req.RememberMe,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Login succeeded", "user_id", u.ID, "session_id", sess.ID)
	return u, sess, nil
}

// Register creates the account and sends a verification code
func (s *LoginService) Register(ctx context.Context, username, email, password string) (*user.User, error) {
	u, err := s.users.Register(ctx, username, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.sendCode(ctx, u.ID, u.Email, emailcode.PurposeRegister, notification.NoticeEmailVerification); err != nil {
		slog.Error("Failed to send verification code", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// VerifyEmail consumes a registration code and marks the address
// verified
func (s *LoginService) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	if _, err := s.codes.Verify(ctx, userID, emailcode.PurposeRegister, code); err != nil {
		return err
	}
	return s.users.MarkEmailVerified(ctx, userID)
}

// ResendVerification sends a fresh registration code, subject to the
// resend cooldown
func (s *LoginService) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.sendCode(ctx, u.ID, u.Email, emailcode.PurposeRegister, notification.NoticeEmailVerification)
}

// RequestPasswordReset sends a reset code when the login resolves to an
// account. Unknown logins succeed silently so the endpoint cannot be
// used to probe for accounts.
func (s *LoginService) RequestPasswordReset(ctx context.Context, login string) error {
	u, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		slog.Info("Password reset requested for unknown login", "login", login)
		return nil
	}
	return s.sendCode(ctx, u.ID, u.Email, emailcode.PurposeReset, notification.NoticePasswordReset)
}

// ConfirmPasswordReset consumes a reset code and sets the new password.
// Every session and refresh token of the user is revoked; the returned
// client ids get a back-channel logout from the caller.
func (s *LoginService) ConfirmPasswordReset(ctx context.Context, login, code, newPassword string) ([]string, uuid.UUID, error) {
	u, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		return nil, uuid.Nil, emailcode.ErrCodeMismatch
	}
	if _, err := s.codes.Verify(ctx, u.ID, emailcode.PurposeReset, code); err != nil {
		return nil, uuid.Nil, err
	}
	if err := s.users.SetPassword(ctx, u.ID, newPassword); err != nil {
		return nil, uuid.Nil, err
	}
	clients, err := s.revokeCredentials(ctx, u.ID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	s.notifyPasswordChanged(u.Email)
	return clients, u.ID, nil
}

// ChangePassword verifies the current password, sets the new one, and
// revokes every session and refresh token of the user
func (s *LoginService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) ([]string, error) {
	if err := s.users.ChangePassword(ctx, userID, currentPassword, newPassword); err != nil {
		return nil, err
	}
	clients, err := s.revokeCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u, err := s.users.GetUser(ctx, userID); err == nil {
		s.notifyPasswordChanged(u.Email)
	}
	return clients, nil
}

// RequestEmailChange sends a confirmation code to the proposed address
func (s *LoginService) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) error {
	return s.sendCode(ctx, userID, newEmail, emailcode.PurposeChangeEmail, notification.NoticeEmailChange)
}

// ConfirmEmailChange consumes the change code and swaps the address.
// Sessions and refresh tokens are revoked like a password change.
func (s *LoginService) ConfirmEmailChange(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	record, err := s.codes.Verify(ctx, userID, emailcode.PurposeChangeEmail, code)
	if err != nil {
		return nil, err
	}
	if err := s.users.ChangeEmail(ctx, userID, record.Email); err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return nil, err
	}
	return s.revokeCredentials(ctx, userID)
}

// revokeCredentials terminates every session and refresh token of the
// user and returns the client ids that held an active token
func (s *LoginService) revokeCredentials(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	clients, _, err := s.tokens.RevokeAllForUser(ctx, userID, token.ReasonCredentialEdit)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return clients, nil
}

func (s *LoginService) sendCode(ctx context.Context, userID uuid.UUID, email, purpose string, notice notification.NoticeType) error {
	code, err := s.codes.Issue(ctx, userID, email, purpose)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Send(notice, notification.NotificationData{
		To: email,
		Data: map[string]string{
			"Code":      code,
			"ExpiresIn": s.codeTTL.String(),
		},
	}, notification.DefaultTemplates[notice])
}

func (s *LoginService) notifyPasswordChanged(email string) {
	if s.notifier == nil {
		return
	}
	notice := notification.NoticePasswordChanged
	if err := s.notifier.Send(notice, notification.NotificationData{To: email}, notification.DefaultTemplates[notice]); err != nil {
		slog.Error("Failed to send password change notice", "error", err)
	}
}
