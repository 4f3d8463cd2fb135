package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any credential failure. Callers
// present a generic message so attackers cannot probe which accounts
// exist.
var ErrInvalidCredentials = fmt.Errorf("invalid username or password")

// UserService manages accounts and credential checks
type UserService struct {
	repository Repository
	bcryptCost int
}

// NewUserService creates a new user service
func NewUserService(repository Repository) *UserService {
	return &UserService{
		repository: repository,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register creates a new account with a hashed password
func (s *UserService) Register(ctx context.Context, username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.repository.Create(ctx, &User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Registered user", "user_id", created.ID, "username", username)
	return created, nil
}

// Authenticate checks a username-or-email plus password pair. Any
// failure collapses into ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*User, error) {
	u, err := s.repository.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		// Burn a comparison anyway to keep timing uniform
		bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0a6z7pT1r0XkG8m1sXkG8m1sXkG"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns the account by id
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repository.GetByID(ctx, id)
}

// FindByLogin resolves a username or email address
func (s *UserService) FindByLogin(ctx context.Context, login string) (*User, error) {
	return s.repository.GetByLogin(ctx, strings.TrimSpace(login))
}

// ChangePassword verifies the current password and sets a new one.
// Callers revoke sessions and refresh tokens alongside.
func (s *UserService) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	u, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	return s.SetPassword(ctx, id, newPassword)
}

// SetPassword replaces the password without checking the old one. Used
// by the reset flow after code verification.
func (s *UserService) SetPassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repository.UpdatePassword(ctx, id, string(hash)); err != nil {
		return err
	}
	slog.Info("Updated user password", "user_id", id)
	return nil
}

// ChangeEmail replaces the address and resets verification. Callers
// run the verification flow for the new address.
func (s *UserService) ChangeEmail(ctx context.Context, id uuid.UUID, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if err := s.repository.UpdateEmail(ctx, id, email, false); err != nil {
		return err
	}
	slog.Info("Updated user email", "user_id", id)
	return nil
}

// MarkEmailVerified flags the current address as verified
func (s *UserService) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.repository.MarkEmailVerified(ctx, id)
}

// Delete removes the account. Callers revoke sessions and tokens first.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("Deleted user", "user_id", id)
	return nil
}
