package jwks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL signing key repository
func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresRepository{db: db}, nil
}

const signingKeyColumns = `
	kid, alg, public_pem, private_pem_encrypted, active, created_at, rotated_at, expires_at
`

func scanSigningKey(row pgx.Row) (*SigningKey, error) {
	key := &SigningKey{}
	var rotatedAt, expiresAt sql.NullTime

	err := row.Scan(
		&key.Kid,
		&key.Alg,
		&key.PublicPEM,
		&key.PrivatePEMEncrypted,
		&key.Active,
		&key.CreatedAt,
		&rotatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if rotatedAt.Valid {
		key.RotatedAt = &rotatedAt.Time
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	return key, nil
}

// GetActiveKey retrieves the currently active signing key
func (r *PostgresRepository) GetActiveKey(ctx context.Context) (*SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM jwk_keys WHERE active = TRUE LIMIT 1`

	key, err := scanSigningKey(r.db.QueryRow(ctx, query))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no active key found")
		}
		return nil, fmt.Errorf("failed to get active key: %w", err)
	}
	return key, nil
}

// GetKeyByKid retrieves a key by its key id
func (r *PostgresRepository) GetKeyByKid(ctx context.Context, kid string) (*SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM jwk_keys WHERE kid = $1`

	key, err := scanSigningKey(r.db.QueryRow(ctx, query, kid))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// AddKey inserts a new key
func (r *PostgresRepository) AddKey(ctx context.Context, key *SigningKey) error {
	query := `
		INSERT INTO jwk_keys (kid, alg, public_pem, private_pem_encrypted, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		key.Kid, key.Alg, key.PublicPEM, key.PrivatePEMEncrypted, key.Active, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add key: %w", err)
	}
	return nil
}

// Rotate deactivates all active keys and inserts newKey in one
// transaction. The row lock on the active set makes concurrent rotation
// calls serialize; readers see either the old or the new key set.
func (r *PostgresRepository) Rotate(ctx context.Context, newKey *SigningKey) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT kid FROM jwk_keys WHERE active = TRUE FOR UPDATE`)
	if err != nil {
		return fmt.Errorf("failed to lock active keys: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jwk_keys SET active = FALSE, rotated_at = NOW()
		WHERE active = TRUE
	`)
	if err != nil {
		return fmt.Errorf("failed to deactivate keys: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jwk_keys (kid, alg, public_pem, private_pem_encrypted, active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, newKey.Kid, newKey.Alg, newKey.PublicPEM, newKey.PrivatePEMEncrypted, newKey.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert new key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}
	return nil
}

// ListPublishable returns the active key plus keys rotated at or after the cutoff
func (r *PostgresRepository) ListPublishable(ctx context.Context, rotatedCutoff time.Time) ([]*SigningKey, error) {
	query := `
		SELECT ` + signingKeyColumns + `
		FROM jwk_keys
		WHERE active = TRUE OR rotated_at >= $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, rotatedCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishable keys: %w", err)
	}
	defer rows.Close()

	var keys []*SigningKey
	for rows.Next() {
		key, err := scanSigningKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteRotatedBefore prunes inactive keys rotated before the cutoff
func (r *PostgresRepository) DeleteRotatedBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM jwk_keys WHERE active = FALSE AND rotated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune rotated keys: %w", err)
	}
	return nil
}
