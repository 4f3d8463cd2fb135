package authcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-backed authorization
// code repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const codeColumns = `code_hash, client_id, user_id, session_id, redirect_uri,
	scope, nonce, code_challenge, code_challenge_method, auth_time,
	created_at, expires_at, used_at`

func scanCode(row pgx.Row) (*AuthorizationCode, error) {
	var code AuthorizationCode
	err := row.Scan(
		&code.CodeHash,
		&code.ClientID,
		&code.UserID,
		&code.SessionID,
		&code.RedirectURI,
		&code.Scope,
		&code.Nonce,
		&code.CodeChallenge,
		&code.CodeChallengeMethod,
		&code.AuthTime,
		&code.CreatedAt,
		&code.ExpiresAt,
		&code.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *PostgresRepository) Create(ctx context.Context, code *AuthorizationCode) error {
	query := `
		INSERT INTO auth_codes (` + codeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		code.CodeHash,
		code.ClientID,
		code.UserID,
		code.SessionID,
		code.RedirectURI,
		code.Scope,
		code.Nonce,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.AuthTime,
		code.CreatedAt,
		code.ExpiresAt,
		code.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

// Consume selects the row FOR UPDATE so that concurrent exchanges of
// the same code serialize: the second one sees used_at already set.
func (r *PostgresRepository) Consume(ctx context.Context, codeHash string, check func(*AuthorizationCode) error) (*AuthorizationCode, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + codeColumns + ` FROM auth_codes WHERE code_hash = $1 FOR UPDATE`
	code, err := scanCode(tx.QueryRow(ctx, query, codeHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	if checkErr := check(code); checkErr != nil {
		// Commit rather than roll back: the row is unchanged and the
		// lock should release immediately.
		if err := tx.Commit(ctx); err != nil {
			return code, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return code, checkErr
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `UPDATE auth_codes SET used_at = $1 WHERE code_hash = $2`, now, codeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to mark authorization code used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	code.UsedAt = &now
	return code, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
