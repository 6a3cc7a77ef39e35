package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

const organizationColumns = `id, name, created_at`

func scanOrganization(row pgx.Row) (*types.Organization, error) {
	var o types.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrganization inserts a new organization.
func (p *Postgres) CreateOrganization(ctx context.Context, org *types.Organization) error {
	query := `INSERT INTO organizations (` + organizationColumns + `) VALUES ($1, $2, $3)`
	_, err := p.pool.Exec(ctx, query, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}
	return nil
}

// GetOrganization looks up an organization by ID.
func (p *Postgres) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`
	org, err := scanOrganization(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return org, nil
}
