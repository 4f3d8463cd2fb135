package login

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlane/idp/pkg/emailcode"
	"github.com/classlane/idp/pkg/jwks"
	"github.com/classlane/idp/pkg/notification"
	"github.com/classlane/idp/pkg/session"
	"github.com/classlane/idp/pkg/token"
	"github.com/classlane/idp/pkg/user"
)

type loginFixture struct {
	service  *LoginService
	users    *user.UserService
	sessions *session.SessionService
	tokens   *token.TokenService
	notifier *notification.MockNotifier
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	encryptor, err := jwks.NewKeyEncryptor("test-encryption-secret-32-chars!")
	require.NoError(t, err)
	keys := jwks.NewJWKSService(jwks.NewInMemoryRepository(), encryptor)
	require.NoError(t, keys.EnsureActiveKey(context.Background()))

	users := user.NewUserService(user.NewInMemoryRepository())
	sessions := session.NewSessionService(session.NewInMemoryRepository())
	tokens := token.NewTokenService(token.NewInMemoryRepository(), keys, sessions, "https://idp.example.com")
	codes := emailcode.NewCodeService(emailcode.NewInMemoryRepository())
	notifier := notification.NewMockNotifier()

	return &loginFixture{
		service:  NewLoginService(users, sessions, tokens, codes, WithNotifier(notifier)),
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		notifier: notifier,
	}
}

// latestCode digs the most recent emailed code for an address out of the
// captured notices
func (f *loginFixture) latestCode(t *testing.T, email string) string {
	t.Helper()
	sent := f.notifier.SentTo(email)
	require.NotEmpty(t, sent)
	code := sent[len(sent)-1].Notification.Data["Code"]
	require.Len(t, code, 6)
	return code
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture(t)

	_, err := f.users.Register(ctx, "alice", "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		u, sess, err := f.service.Login(ctx, LoginRequest{
			Login:     "alice",
			Password:  "hunter2hunter2",
			IPAddress: "203.0.113.7",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, u.ID, sess.UserID)
		assert.True(t, sess.IsValid(time.Now().UTC()))
	})

	t.Run("ByEmail", func(t *testing.T) {
		u, _, err := f.service.Login(ctx, LoginRequest{Login: "Alice@Example.com", Password: "hunter2hunter2"})
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := f.service.Login(ctx, LoginRequest{Login: "alice", Password: "nope-nope"})
		assert.ErrorIs(t, err, user.ErrInvalidCredentials)
	})

	t.Run("UnknownLogin", func(t *testing.T) {
		_, _, err := f.service.Login(ctx, LoginRequest{Login: "mallory", Password: "whatever-123"})
		assert.ErrorIs(t, err, user.ErrInvalidCredentials)
	})

	t.Run("RememberMeExtendsAbsoluteExpiry", func(t *testing.T) {
		_, short, err := f.service.Login(ctx, LoginRequest{Login: "alice", Password: "hunter2hunter2"})
		require.NoError(t, err)
		_, long, err := f.service.Login(ctx, LoginRequest{Login: "alice", Password: "hunter2hunter2", RememberMe: true})
		require.NoError(t, err)
		assert.True(t, long.AbsoluteExpiry.After(short.AbsoluteExpiry))
	})
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture(t)

	u, err := f.service.Register(ctx, "bob", "bob@example.com", "super-secret-pw")
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)

	sent := f.notifier.SentTo("bob@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, notification.NoticeEmailVerification, sent[0].Type)

	t.Run("WrongCode", func(t *testing.T) {
		err := f.service.VerifyEmail(ctx, u.ID, "000000")
		assert.ErrorIs(t, err, emailcode.ErrCodeMismatch)
	})

	t.Run("CorrectCode", func(t *testing.T) {
		require.NoError(t, f.service.VerifyEmail(ctx, u.ID, f.latestCode(t, "bob@example.com")))

		got, err := f.users.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
	})

	t.Run("ResendCooldown", func(t *testing.T) {
		err := f.service.ResendVerification(ctx, u.ID)
		assert.ErrorIs(t, err, emailcode.ErrResendCooldown)
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture(t)

	u, err := f.users.Register(ctx, "carol", "carol@example.com", "original-pass")
	require.NoError(t, err)

	t.Run("UnknownLoginIsSilent", func(t *testing.T) {
		require.NoError(t, f.service.RequestPasswordReset(ctx, "nobody@example.com"))
		assert.Empty(t, f.notifier.SentTo("nobody@example.com"))
	})

	require.NoError(t, f.service.RequestPasswordReset(ctx, "carol"))
	code := f.latestCode(t, "carol@example.com")

	// A live session and refresh token that the reset must kill
	_, sess, err := f.service.Login(ctx, LoginRequest{Login: "carol", Password: "original-pass"})
	require.NoError(t, err)
	_, err = f.tokens.Mint(ctx, token.MintRequest{
		UserID:    u.ID,
		ClientID:  "web-app",
		SessionID: sess.ID,
		Scope:     "openid offline_access",
		AuthTime:  sess.CreatedAt,
	})
	require.NoError(t, err)

	clients, userID, err := f.service.ConfirmPasswordReset(ctx, "carol", code, "brand-new-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
	assert.Equal(t, []string{"web-app"}, clients)

	t.Run("OldPasswordRejected", func(t *testing.T) {
		_, _, err := f.service.Login(ctx, LoginRequest{Login: "carol", Password: "original-pass"})
		assert.ErrorIs(t, err, user.ErrInvalidCredentials)
	})

	t.Run("NewPasswordWorks", func(t *testing.T) {
		_, _, err := f.service.Login(ctx, LoginRequest{Login: "carol", Password: "brand-new-pass"})
		assert.NoError(t, err)
	})

	t.Run("SessionsRevoked", func(t *testing.T) {
		_, err := f.sessions.Validate(ctx, sess.ID)
		assert.Error(t, err)
	})

	t.Run("ChangeNoticeSent", func(t *testing.T) {
		sent := f.notifier.SentTo("carol@example.com")
		assert.Equal(t, notification.NoticePasswordChanged, sent[len(sent)-1].Type)
	})

	t.Run("CodeIsSingleUse", func(t *testing.T) {
		_, _, err := f.service.ConfirmPasswordReset(ctx, "carol", code, "yet-another-pass")
		assert.Error(t, err)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture(t)

	u, err := f.users.Register(ctx, "dave", "dave@example.com", "first-password")
	require.NoError(t, err)

	t.Run("WrongCurrentPassword", func(t *testing.T) {
		_, err := f.service.ChangePassword(ctx, u.ID, "not-the-password", "second-password")
		assert.ErrorIs(t, err, user.ErrInvalidCredentials)
	})

	t.Run("Success", func(t *testing.T) {
		_, sess, err := f.service.Login(ctx, LoginRequest{Login: "dave", Password: "first-password"})
		require.NoError(t, err)

		_, err = f.service.ChangePassword(ctx, u.ID, "first-password", "second-password")
		require.NoError(t, err)

		_, err = f.sessions.Validate(ctx, sess.ID)
		assert.Error(t, err)

		_, _, err = f.service.Login(ctx, LoginRequest{Login: "dave", Password: "second-password"})
		assert.NoError(t, err)
	})
}

func TestEmailChange(t *testing.T) {
	ctx := context.Background()
	f := newLoginFixture(t)

	u, err := f.users.Register(ctx, "erin", "erin@example.com", "erins-password")
	require.NoError(t, err)
	require.NoError(t, f.users.MarkEmailVerified(ctx, u.ID))

	require.NoError(t, f.service.RequestEmailChange(ctx, u.ID, "erin@new.example.com"))

	// The code goes to the proposed address, not the current one
	assert.Len(t, f.notifier.SentTo("erin@new.example.com"), 1)

	code := f.latestCode(t, "erin@new.example.com")
	_, err = f.service.ConfirmEmailChange(ctx, u.ID, code)
	require.NoError(t, err)

	got, err := f.users.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin@new.example.com", got.Email)
	assert.True(t, got.EmailVerified)
}
