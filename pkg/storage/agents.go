package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

const agentColumns = `id, organization_id, cluster_id, name, image, resources, retry_policy, environment_variables,
	config_hash, status, last_seen_at, created_at, updated_at`

func scanAgent(row pgx.Row) (*types.Agent, error) {
	var a types.Agent
	var lastSeenAt *time.Time
	if err := row.Scan(
		&a.ID, &a.OrganizationID, &a.ClusterID, &a.Name, &a.Image, &a.Resources, &a.RetryPolicy,
		&a.EnvironmentVariables, &a.ConfigHash, &a.Status, &lastSeenAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastSeenAt != nil {
		a.LastSeenAt = *lastSeenAt
	}
	return &a, nil
}

func scanAgents(rows pgx.Rows) ([]*types.Agent, error) {
	defer rows.Close()
	var agents []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// CreateAgent inserts a new agent. The (organization_id, name) pair is
// unique; a duplicate insert returns ErrConflict.
func (p *Postgres) CreateAgent(ctx context.Context, agent *types.Agent) error {
	query := `INSERT INTO agents (` + agentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := p.pool.Exec(ctx, query,
		agent.ID, agent.OrganizationID, agent.ClusterID, agent.Name, agent.Image,
		agent.Resources, agent.RetryPolicy, agent.EnvironmentVariables, agent.ConfigHash,
		agent.Status, nullableTime(agent.LastSeenAt), agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("creating agent: %w", err)
	}
	return nil
}

// UpdateAgentConfig replaces an agent's deployable definition (image,
// resources, retry policy, environment, config hash).
func (p *Postgres) UpdateAgentConfig(ctx context.Context, agent *types.Agent) error {
	query := `UPDATE agents
		SET image = $2, resources = $3, retry_policy = $4, environment_variables = $5,
			config_hash = $6, updated_at = now()
		WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query,
		agent.ID, agent.Image, agent.Resources, agent.RetryPolicy,
		agent.EnvironmentVariables, agent.ConfigHash,
	)
	if err != nil {
		return fmt.Errorf("updating agent config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent looks up an agent by ID.
func (p *Postgres) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	agent, err := scanAgent(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	return agent, nil
}

// GetAgentByName looks up an agent by its (organization_id, name) unique key.
func (p *Postgres) GetAgentByName(ctx context.Context, organizationID, name string) (*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE organization_id = $1 AND name = $2`
	agent, err := scanAgent(p.pool.QueryRow(ctx, query, organizationID, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting agent by name: %w", err)
	}
	return agent, nil
}

// ListAgentsByOrganization returns all agents belonging to organizationID.
func (p *Postgres) ListAgentsByOrganization(ctx context.Context, organizationID string) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE organization_id = $1 ORDER BY name`
	rows, err := p.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return scanAgents(rows)
}

// UpdateAgentStatus records a new reported status, the reporting cluster,
// and the report time.
func (p *Postgres) UpdateAgentStatus(ctx context.Context, id, clusterID string, status types.AgentStatus, lastSeenAt time.Time) error {
	query := `UPDATE agents SET status = $2, cluster_id = $3, last_seen_at = $4, updated_at = now() WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, status, clusterID, lastSeenAt)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAgentsByStatus returns the current number of agents grouped by status.
func (p *Postgres) CountAgentsByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, count(*) FROM agents GROUP BY status`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting agents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning agent count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent count rows: %w", err)
	}
	return counts, nil
}
