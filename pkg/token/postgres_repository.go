package token

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

// NewPostgresRepository creates a new PostgreSQL-backed refresh token
// repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const tokenColumns = `jti, user_id, client_id, session_id, scope, parent_jti,
	created_at, expires_at, rotated_at, revoked_at, revoke_reason`

func scanToken(row pgx.Row) (*RefreshToken, error) {
	var token RefreshToken
	var reason *string
	err := row.Scan(
		&token.JTI,
		&token.UserID,
		&token.ClientID,
		&token.SessionID,
		&token.Scope,
		&token.ParentJTI,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RotatedAt,
		&token.RevokedAt,
		&reason,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		token.RevokeReason = *reason
	}
	return &token, nil
}

func insertToken(ctx context.Context, tx pgx.Tx, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`

	_, err := tx.Exec(ctx, query,
		token.JTI,
		token.UserID,
		token.ClientID,
		token.SessionID,
		token.Scope,
		token.ParentJTI,
		token.CreatedAt,
		token.ExpiresAt,
		token.RotatedAt,
		token.RevokedAt,
		token.RevokeReason,
	)
	return err
}

func (r *PostgresRepository) Create(ctx context.Context, token *RefreshToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertToken(ctx, tx, token); err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetByJTI(ctx context.Context, jti string) (*RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE jti = $1`
	token, err := scanToken(r.pool.QueryRow(ctx, query, jti))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return token, nil
}

// Rotate locks the predecessor row FOR UPDATE so concurrent redemptions
// of the same jti serialize: the loser of the race sees the row already
// rotated and trips reuse detection.
func (r *PostgresRepository) Rotate(ctx context.Context, jti string, successor *RefreshToken, check func(*RefreshToken) error) (*RefreshToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE jti = $1 FOR UPDATE`
	token, err := scanToken(tx.QueryRow(ctx, query, jti))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if checkErr := check(token); checkErr != nil {
		if err := tx.Commit(ctx); err != nil {
			return token, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return token, checkErr
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET rotated_at = $1, revoked_at = $1, revoke_reason = $2
		WHERE jti = $3`, now, ReasonRotated, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to mark refresh token rotated: %w", err)
	}

	if err := insertToken(ctx, tx, successor); err != nil {
		return nil, fmt.Errorf("failed to insert successor token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	token.RotatedAt = &now
	token.RevokedAt = &now
	token.RevokeReason = ReasonRotated
	return token, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, jti string, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoke_reason = $1
		WHERE jti = $2 AND revoked_at IS NULL`, reason, jti)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetChildren(ctx context.Context, parentJTI string) ([]RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE parent_jti = $1`
	rows, err := r.pool.Query(ctx, query, parentJTI)
	if err != nil {
		return nil, fmt.Errorf("failed to query child tokens: %w", err)
	}
	defer rows.Close()

	var result []RefreshToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		result = append(result, *token)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoke_reason = $1
		WHERE user_id = $2 AND revoked_at IS NULL`, reason, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) RevokeAllForSession(ctx context.Context, sessionID uuid.UUID, reason string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoke_reason = $1
		WHERE session_id = $2 AND revoked_at IS NULL`, reason, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke session refresh tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) ListActiveClientsForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return r.listActiveClients(ctx, `user_id`, userID)
}

func (r *PostgresRepository) ListActiveClientsForSession(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	return r.listActiveClients(ctx, `session_id`, sessionID)
}

func (r *PostgresRepository) listActiveClients(ctx context.Context, column string, id uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT client_id FROM refresh_tokens
		WHERE `+column+` = $1 AND revoked_at IS NULL AND rotated_at IS NULL AND expires_at > NOW()`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query active clients: %w", err)
	}
	defer rows.Close()

	var clients []string
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, fmt.Errorf("failed to scan client id: %w", err)
		}
		clients = append(clients, clientID)
	}
	return clients, rows.Err()
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
