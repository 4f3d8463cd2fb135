package emailcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-backed email code
// repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const emailCodeColumns = `id, user_id, email, purpose, code_hash, attempts, created_at, expires_at, used_at`

func scanEmailCode(row pgx.Row) (*EmailCode, error) {
	var code EmailCode
	err := row.Scan(
		&code.ID,
		&code.UserID,
		&code.Email,
		&code.Purpose,
		&code.CodeHash,
		&code.Attempts,
		&code.CreatedAt,
		&code.ExpiresAt,
		&code.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *PostgresRepository) Create(ctx context.Context, code *EmailCode) error {
	query := `
		INSERT INTO email_codes (` + emailCodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		code.ID, code.UserID, code.Email, code.Purpose, code.CodeHash,
		code.Attempts, code.CreatedAt, code.ExpiresAt, code.UsedAt)
	if err != nil {
		return fmt.Errorf("failed to insert email code: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetLatest(ctx context.Context, userID uuid.UUID, purpose string) (*EmailCode, error) {
	query := `
		SELECT ` + emailCodeColumns + ` FROM email_codes
		WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`

	code, err := scanEmailCode(r.pool.QueryRow(ctx, query, userID, purpose))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get email code: %w", err)
	}
	return code, nil
}

func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_codes SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment email code attempts: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_codes SET used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark email code used: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired email codes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
