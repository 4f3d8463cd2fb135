package emailcode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Verification failure modes
var (
	ErrResendCooldown  = fmt.Errorf("a code was sent recently, wait before requesting another")
	ErrTooManyAttempts = fmt.Errorf("too many incorrect attempts")
	ErrCodeExpired     = fmt.Errorf("code expired")
	ErrCodeMismatch    = fmt.Errorf("incorrect code")
)

const codeDigits = 6

// CodeService issues and verifies one-time email codes
type CodeService struct {
	repository  Repository
	ttl         time.Duration
	cooldown    time.Duration
	maxAttempts int
}

// Option configures a CodeService
type Option func(*CodeService)

// WithTTL sets the code lifetime
func WithTTL(d time.Duration) Option {
	return func(s *CodeService) {
		s.ttl = d
	}
}

// WithCooldown sets the minimum interval between issues for the same
// user and purpose
func WithCooldown(d time.Duration) Option {
	return func(s *CodeService) {
		s.cooldown = d
	}
}

// WithMaxAttempts caps wrong guesses before the code is burned
func WithMaxAttempts(n int) Option {
	return func(s *CodeService) {
		s.maxAttempts = n
	}
}

// NewCodeService creates a new email code service
func NewCodeService(repository Repository, opts ...Option) *CodeService {
	service := &CodeService{
		repository:  repository,
		ttl:         15 * time.Minute,
		cooldown:    time.Minute,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Issue mints a fresh numeric code for the user and purpose, enforcing
// the resend cooldown. The plaintext code is returned for delivery.
func (s *CodeService) Issue(ctx context.Context, userID uuid.UUID, email, purpose string) (string, error) {
	now := time.Now().UTC()

	if latest, err := s.repository.GetLatest(ctx, userID, purpose); err == nil {
		if now.Sub(latest.CreatedAt) < s.cooldown {
			return "", ErrResendCooldown
		}
	}

	code, err := generateNumericCode(codeDigits)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	record := &EmailCode{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repository.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store email code: %w", err)
	}

	slog.Info("Issued email code", "user_id", userID, "purpose", purpose)
	return code, nil
}

// Verify checks the code against the latest unused one for the user and
// purpose. A correct code is consumed; wrong guesses count toward the
// attempt cap.
func (s *CodeService) Verify(ctx context.Context, userID uuid.UUID, purpose, code string) (*EmailCode, error) {
	record, err := s.repository.GetLatest(ctx, userID, purpose)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if now.After(record.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	if record.Attempts >= s.maxAttempts {
		return nil, ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(record.CodeHash), []byte(hashCode(code))) != 1 {
		if err := s.repository.IncrementAttempts(ctx, record.ID); err != nil {
			slog.Error("Failed to record code attempt", "id", record.ID, "error", err)
		}
		return nil, ErrCodeMismatch
	}

	if err := s.repository.MarkUsed(ctx, record.ID); err != nil {
		return nil, fmt.Errorf("failed to consume email code: %w", err)
	}

	slog.Info("Verified email code", "user_id", userID, "purpose", purpose)
	return record, nil
}

// DeleteExpired removes codes past their expiry
func (s *CodeService) DeleteExpired(ctx context.Context) (int, error) {
	return s.repository.DeleteExpired(ctx, time.Now().UTC())
}

func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
