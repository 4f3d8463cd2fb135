package authcode

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlane/idp/pkg/pkce"
)

func issueTestCode(t *testing.T, service *AuthCodeService, req IssueRequest) string {
	t.Helper()
	code, err := service.Issue(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	return code
}

func TestAuthCodeService_Exchange(t *testing.T) {
	service := NewAuthCodeService(NewInMemoryRepository(), WithTTL(10*time.Minute))
	userID := uuid.New()
	sessionID := uuid.New()

	verifier, err := pkce.GenerateCodeVerifier()
	require.NoError(t, err)

	issueReq := IssueRequest{
		ClientID:            "spa",
		UserID:              userID,
		SessionID:           sessionID,
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "openid profile offline_access",
		Nonce:               "n-0S6_WzA2Mj",
		CodeChallenge:       pkce.ComputeChallenge(verifier),
		CodeChallengeMethod: pkce.ChallengeMethodS256,
		AuthTime:            time.Now().UTC(),
	}

	t.Run("successful exchange", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)

		got, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "spa",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		})
		require.NoError(t, err)

		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, sessionID, got.SessionID)
		assert.Equal(t, "openid profile offline_access", got.Scope)
		assert.Equal(t, "n-0S6_WzA2Mj", got.Nonce)
		assert.NotNil(t, got.UsedAt)
	})

	t.Run("second exchange of same code rejected", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)
		req := ExchangeRequest{
			Code:         code,
			ClientID:     "spa",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		}

		_, err := service.Exchange(context.Background(), req)
		require.NoError(t, err)

		_, err = service.Exchange(context.Background(), req)
		assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:        "no-such-code",
			ClientID:    "spa",
			RedirectURI: "https://app.example.com/callback",
		})
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("client mismatch", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)

		_, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "other-client",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		})
		assert.ErrorIs(t, err, ErrClientMismatch)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)

		_, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "spa",
			RedirectURI:  "https://evil.example.com/callback",
			CodeVerifier: verifier,
		})
		assert.ErrorIs(t, err, ErrRedirectMismatch)
	})

	t.Run("missing verifier when challenge bound", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)

		_, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:        code,
			ClientID:    "spa",
			RedirectURI: "https://app.example.com/callback",
		})
		assert.ErrorIs(t, err, ErrVerifierRequired)
	})

	t.Run("wrong verifier does not consume the code", func(t *testing.T) {
		code := issueTestCode(t, service, issueReq)
		wrongVerifier, err := pkce.GenerateCodeVerifier()
		require.NoError(t, err)

		_, err = service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "spa",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: wrongVerifier,
		})
		require.ErrorIs(t, err, ErrPKCEVerificationFailed)

		// Retry with the correct verifier still succeeds
		got, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "spa",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		})
		require.NoError(t, err)
		assert.NotNil(t, got.UsedAt)
	})

	t.Run("verifier without bound challenge rejected", func(t *testing.T) {
		plainReq := issueReq
		plainReq.ClientID = "web-app"
		plainReq.CodeChallenge = ""
		plainReq.CodeChallengeMethod = ""
		code := issueTestCode(t, service, plainReq)

		_, err := service.Exchange(context.Background(), ExchangeRequest{
			Code:         code,
			ClientID:     "web-app",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		})
		assert.ErrorIs(t, err, ErrVerifierNotExpected)
	})
}

func TestAuthCodeService_Expiry(t *testing.T) {
	service := NewAuthCodeService(NewInMemoryRepository(), WithTTL(-time.Second))

	code := issueTestCode(t, service, IssueRequest{
		ClientID:    "web-app",
		UserID:      uuid.New(),
		SessionID:   uuid.New(),
		RedirectURI: "https://app.example.com/callback",
		Scope:       "openid",
		AuthTime:    time.Now().UTC(),
	})

	_, err := service.Exchange(context.Background(), ExchangeRequest{
		Code:        code,
		ClientID:    "web-app",
		RedirectURI: "https://app.example.com/callback",
	})
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestAuthCodeService_DeleteExpired(t *testing.T) {
	repo := NewInMemoryRepository()
	expired := NewAuthCodeService(repo, WithTTL(-time.Hour))
	fresh := NewAuthCodeService(repo, WithTTL(time.Hour))

	issueTestCode(t, expired, IssueRequest{ClientID: "a", UserID: uuid.New(), RedirectURI: "https://a/cb"})
	issueTestCode(t, expired, IssueRequest{ClientID: "b", UserID: uuid.New(), RedirectURI: "https://b/cb"})
	issueTestCode(t, fresh, IssueRequest{ClientID: "c", UserID: uuid.New(), RedirectURI: "https://c/cb"})

	count, err := fresh.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
