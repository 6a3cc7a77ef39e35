package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

const apiKeyColumns = `id, organization_id, key_prefix, key_hash, description, rate_limit, created_at, expires_at, last_used_at, revoked_at`

func scanAPIKey(row pgx.Row) (*types.APIKey, error) {
	var k types.APIKey
	var expiresAt, lastUsedAt, revokedAt *time.Time
	if err := row.Scan(
		&k.ID, &k.OrganizationID, &k.KeyPrefix, &k.KeyHash, &k.Description, &k.RateLimit,
		&k.CreatedAt, &expiresAt, &lastUsedAt, &revokedAt,
	); err != nil {
		return nil, err
	}
	if expiresAt != nil {
		k.ExpiresAt = *expiresAt
	}
	if lastUsedAt != nil {
		k.LastUsedAt = *lastUsedAt
	}
	if revokedAt != nil {
		k.RevokedAt = *revokedAt
	}
	return &k, nil
}

func scanAPIKeys(rows pgx.Rows) ([]*types.APIKey, error) {
	defer rows.Close()
	var keys []*types.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return keys, nil
}

// CreateAPIKey inserts a new API key. KeyHash must already be a bcrypt hash.
func (p *Postgres) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	query := `INSERT INTO api_keys (id, organization_id, key_prefix, key_hash, description, rate_limit, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, query,
		key.ID, key.OrganizationID, key.KeyPrefix, key.KeyHash, key.Description,
		key.RateLimit, key.CreatedAt, nullableTime(key.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}
	return nil
}

// GetAPIKeysByPrefix returns every non-revoked, non-expired key matching
// prefix. A prefix collision is possible (short prefixes aren't unique) so
// callers must bcrypt-compare the raw key against each candidate's hash.
func (p *Postgres) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > now())`
	rows, err := p.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing api keys by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

// TouchAPIKeyLastUsed records the current time as the key's last use.
func (p *Postgres) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = now() WHERE id = $1`
	_, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks an API key revoked so it can no longer authenticate.
func (p *Postgres) RevokeAPIKey(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	tag, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
