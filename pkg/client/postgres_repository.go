package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL client repository
func NewPostgresRepository(db *pgxpool.Pool) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresRepository{db: db}, nil
}

const clientColumns = `
	client_id, client_name, client_type, token_auth_method, require_pkce,
	redirect_uris, post_logout_redirect_uris, backchannel_logout_uri,
	frontchannel_logout_uri, scopes, secret_hash, created_at, updated_at
`

func scanClient(row pgx.Row) (*Client, error) {
	c := &Client{}
	var backchannelURI, frontchannelURI, secretHash sql.NullString

	err := row.Scan(
		&c.ClientID,
		&c.ClientName,
		&c.ClientType,
		&c.TokenAuthMethod,
		&c.RequirePKCE,
		&c.RedirectURIs,
		&c.PostLogoutRedirectURIs,
		&backchannelURI,
		&frontchannelURI,
		&c.Scopes,
		&secretHash,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if backchannelURI.Valid {
		c.BackchannelLogoutURI = backchannelURI.String
	}
	if frontchannelURI.Valid {
		c.FrontchannelLogoutURI = frontchannelURI.String
	}
	if secretHash.Valid {
		c.SecretHash = secretHash.String
	}
	return c, nil
}

// GetClient retrieves a client by client ID
func (r *PostgresRepository) GetClient(ctx context.Context, clientID string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM oauth2_clients WHERE client_id = $1`

	c, err := scanClient(r.db.QueryRow(ctx, query, clientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("client not found: %s", clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// CreateClient registers a new client
func (r *PostgresRepository) CreateClient(ctx context.Context, client *Client) (*Client, error) {
	query := `
		INSERT INTO oauth2_clients (
			client_id, client_name, client_type, token_auth_method, require_pkce,
			redirect_uris, post_logout_redirect_uris, backchannel_logout_uri,
			frontchannel_logout_uri, scopes, secret_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''))
		RETURNING ` + clientColumns

	c, err := scanClient(r.db.QueryRow(ctx, query,
		client.ClientID,
		client.ClientName,
		client.ClientType,
		client.TokenAuthMethod,
		client.RequirePKCE,
		client.RedirectURIs,
		client.PostLogoutRedirectURIs,
		client.BackchannelLogoutURI,
		client.FrontchannelLogoutURI,
		client.Scopes,
		client.SecretHash,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// UpdateClient replaces the stored client record
func (r *PostgresRepository) UpdateClient(ctx context.Context, client *Client) (*Client, error) {
	query := `
		UPDATE oauth2_clients SET
			client_name = $2,
			client_type = $3,
			token_auth_method = $4,
			require_pkce = $5,
			redirect_uris = $6,
			post_logout_redirect_uris = $7,
			backchannel_logout_uri = NULLIF($8, ''),
			frontchannel_logout_uri = NULLIF($9, ''),
			scopes = $10,
			secret_hash = NULLIF($11, ''),
			updated_at = NOW()
		WHERE client_id = $1
		RETURNING ` + clientColumns

	c, err := scanClient(r.db.QueryRow(ctx, query,
		client.ClientID,
		client.ClientName,
		client.ClientType,
		client.TokenAuthMethod,
		client.RequirePKCE,
		client.RedirectURIs,
		client.PostLogoutRedirectURIs,
		client.BackchannelLogoutURI,
		client.FrontchannelLogoutURI,
		client.Scopes,
		client.SecretHash,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("client not found: %s", client.ClientID)
		}
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return c, nil
}

// DeleteClient removes a client registration
func (r *PostgresRepository) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth2_clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client not found: %s", clientID)
	}
	return nil
}

// ListClients returns all registered clients
func (r *PostgresRepository) ListClients(ctx context.Context) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM oauth2_clients ORDER BY client_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
