package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

const clusterColumns = `id, organization_id, name, secret_hash, status, relayer_version, last_heartbeat, created_at, updated_at`

func scanCluster(row pgx.Row) (*types.Cluster, error) {
	var c types.Cluster
	var lastHeartbeat *time.Time
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.SecretHash, &c.Status, &c.RelayerVersion, &lastHeartbeat, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if lastHeartbeat != nil {
		c.LastHeartbeat = *lastHeartbeat
	}
	return &c, nil
}

func scanClusters(rows pgx.Rows) ([]*types.Cluster, error) {
	defer rows.Close()
	var clusters []*types.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster row: %w", err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cluster rows: %w", err)
	}
	return clusters, nil
}

// CreateCluster inserts a new cluster. SecretHash must already be a bcrypt hash.
func (p *Postgres) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	query := `INSERT INTO clusters (id, organization_id, name, secret_hash, status, relayer_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, query,
		cluster.ID, cluster.OrganizationID, cluster.Name, cluster.SecretHash,
		cluster.Status, cluster.RelayerVersion, cluster.CreatedAt, cluster.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating cluster: %w", err)
	}
	return nil
}

// GetCluster looks up a cluster by ID.
func (p *Postgres) GetCluster(ctx context.Context, id string) (*types.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE id = $1`
	cluster, err := scanCluster(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting cluster: %w", err)
	}
	return cluster, nil
}

// GetClusterByName looks up a cluster by its (organization_id, name) unique key.
func (p *Postgres) GetClusterByName(ctx context.Context, organizationID, name string) (*types.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE organization_id = $1 AND name = $2`
	cluster, err := scanCluster(p.pool.QueryRow(ctx, query, organizationID, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting cluster by name: %w", err)
	}
	return cluster, nil
}

// ListClustersByOrganization returns all clusters belonging to organizationID.
func (p *Postgres) ListClustersByOrganization(ctx context.Context, organizationID string) ([]*types.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE organization_id = $1 ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	return scanClusters(rows)
}

// ListClustersByStatus returns every cluster currently in status, across all
// organizations. Used by the health monitor's reconcile pass.
func (p *Postgres) ListClustersByStatus(ctx context.Context, status types.ClusterStatus) ([]*types.Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE status = $1`
	rows, err := p.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("listing clusters by status: %w", err)
	}
	return scanClusters(rows)
}

// UpdateClusterStatus transitions a cluster's status field.
func (p *Postgres) UpdateClusterStatus(ctx context.Context, id string, status types.ClusterStatus) error {
	query := `UPDATE clusters SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("updating cluster status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateClusterHeartbeat records the time of the latest heartbeat frame
// received on the cluster's attached session.
func (p *Postgres) UpdateClusterHeartbeat(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE clusters SET last_heartbeat = $2, updated_at = now() WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("updating cluster heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateClusterAttach marks a cluster ACTIVE, stamps its heartbeat, and
// records the relayer version presented at stream attach.
func (p *Postgres) UpdateClusterAttach(ctx context.Context, id, relayerVersion string, at time.Time) error {
	query := `UPDATE clusters
		SET status = $2, relayer_version = COALESCE(NULLIF($3, ''), relayer_version), last_heartbeat = $4, updated_at = now()
		WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, types.ClusterStatusActive, relayerVersion, at)
	if err != nil {
		return fmt.Errorf("marking cluster attached: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
