package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL session repository
func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresRepository{db: db}, nil
}

const sessionColumns = `
	id, user_id, last_seen_at, idle_expiry, absolute_expiry, revoked_at,
	ip_address, user_agent, created_at
`

func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	var revokedAt sql.NullTime
	var ipAddress, userAgent sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.LastSeenAt,
		&session.IdleExpiry,
		&session.AbsoluteExpiry,
		&revokedAt,
		&ipAddress,
		&userAgent,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		session.RevokedAt = &revokedAt.Time
	}
	if ipAddress.Valid {
		session.IPAddress = ipAddress.String
	}
	if userAgent.Valid {
		session.UserAgent = userAgent.String
	}
	return session, nil
}

// Create stores a new session
func (r *PostgresRepository) Create(ctx context.Context, session *Session) (*Session, error) {
	query := `
		INSERT INTO idp_sessions (
			id, user_id, last_seen_at, idle_expiry, absolute_expiry,
			ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		RETURNING ` + sessionColumns

	created, err := scanSession(r.db.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		session.LastSeenAt,
		session.IdleExpiry,
		session.AbsoluteExpiry,
		session.IPAddress,
		session.UserAgent,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetByID retrieves a session by its ID
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM idp_sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// Touch updates last_seen_at and slides idle_expiry forward
func (r *PostgresRepository) Touch(ctx context.Context, id uuid.UUID, lastSeen, idleExpiry time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE idp_sessions SET last_seen_at = $2, idle_expiry = $3 WHERE id = $1
	`, id, lastSeen, idleExpiry)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// Revoke stamps revoked_at on a single session
func (r *PostgresRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE idp_sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found or already revoked: %s", id)
	}
	return nil
}

// RevokeAllForUser stamps revoked_at on every active session of the user
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE idp_sessions SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveForUser returns all valid sessions of the user
func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM idp_sessions
		WHERE user_id = $1
		  AND revoked_at IS NULL
		  AND idle_expiry > NOW()
		  AND absolute_expiry > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteExpired removes sessions past both expiries
func (r *PostgresRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM idp_sessions WHERE idle_expiry < NOW() OR absolute_expiry < NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return nil
}
