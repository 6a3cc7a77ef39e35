package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

const executionColumns = `id, organization_id, agent_id, agent_name, cluster_id, priority, status, payload, result, error,
	duration_ms, attempt, created_at, queued_at, started_at, completed_at`

func scanExecution(row pgx.Row) (*types.Execution, error) {
	var e types.Execution
	var agentID, clusterID *string
	var queuedAt, startedAt, completedAt *time.Time
	if err := row.Scan(
		&e.ID, &e.OrganizationID, &agentID, &e.AgentName, &clusterID, &e.Priority, &e.Status,
		&e.Payload, &e.Result, &e.Error, &e.DurationMS, &e.Attempt,
		&e.CreatedAt, &queuedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if agentID != nil {
		e.AgentID = *agentID
	}
	if clusterID != nil {
		e.ClusterID = *clusterID
	}
	if queuedAt != nil {
		e.QueuedAt = *queuedAt
	}
	if startedAt != nil {
		e.StartedAt = *startedAt
	}
	if completedAt != nil {
		e.CompletedAt = *completedAt
	}
	return &e, nil
}

func scanExecutions(rows pgx.Rows) ([]*types.Execution, error) {
	defer rows.Close()
	var executions []*types.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution rows: %w", err)
	}
	return executions, nil
}

// CreateExecution inserts a new execution in PENDING status.
func (p *Postgres) CreateExecution(ctx context.Context, execution *types.Execution) error {
	query := `INSERT INTO executions
		(id, organization_id, agent_id, agent_name, cluster_id, priority, status, payload, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := p.pool.Exec(ctx, query,
		execution.ID, execution.OrganizationID, nullableString(execution.AgentID), execution.AgentName,
		nullableString(execution.ClusterID), execution.Priority, execution.Status, execution.Payload,
		execution.Attempt, execution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}
	return nil
}

// GetExecution looks up an execution by ID.
func (p *Postgres) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	execution, err := scanExecution(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}
	return execution, nil
}

// UpdateExecutionStatus moves an execution to a non-terminal status,
// optionally recording the agent that claimed it. The status guard makes a
// late update against an already-terminal execution match no row, so it
// returns ErrNotFound rather than rolling the execution back.
func (p *Postgres) UpdateExecutionStatus(ctx context.Context, id string, status types.ExecutionStatus, agentID string) error {
	var query string
	var args []any
	switch status {
	case types.ExecutionStatusQueued:
		query = `UPDATE executions SET status = $2, queued_at = now() WHERE id = $1 AND status NOT IN ('completed', 'failed')`
		args = []any{id, status}
	case types.ExecutionStatusRunning:
		query = `UPDATE executions SET status = $2, agent_id = COALESCE(NULLIF($3, ''), agent_id), started_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'failed')`
		args = []any{id, status, agentID}
	default:
		query = `UPDATE executions SET status = $2 WHERE id = $1 AND status NOT IN ('completed', 'failed')`
		args = []any{id, status}
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating execution status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignExecutionCluster binds a PENDING execution to a cluster and stamps
// it QUEUED.
func (p *Postgres) AssignExecutionCluster(ctx context.Context, id, clusterID string) error {
	query := `UPDATE executions SET cluster_id = $2, status = $3, queued_at = now()
		WHERE id = $1 AND status = $4`
	tag, err := p.pool.Exec(ctx, query, id, clusterID, types.ExecutionStatusQueued, types.ExecutionStatusPending)
	if err != nil {
		return fmt.Errorf("assigning execution cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteExecution moves an execution into a terminal status (COMPLETED or
// FAILED), recording its result, reported duration, and completion time. A
// second call against an already-terminal execution is a no-op, matching
// at-least-once delivery of status frames.
func (p *Postgres) CompleteExecution(ctx context.Context, id string, status types.ExecutionStatus, result []byte, errMsg string, durationMS int64) error {
	query := `UPDATE executions
		SET status = $2, result = $3, error = $4, duration_ms = $5, completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`
	_, err := p.pool.Exec(ctx, query, id, status, result, errMsg, durationMS)
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	return nil
}

// ListExecutionsByOrganization returns the most recent executions for organizationID.
func (p *Postgres) ListExecutionsByOrganization(ctx context.Context, organizationID string, limit int) ([]*types.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := p.pool.Query(ctx, query, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return scanExecutions(rows)
}

// CountExecutionsByStatus returns the current number of executions grouped by status.
func (p *Postgres) CountExecutionsByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, count(*) FROM executions GROUP BY status`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting executions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning execution count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution count rows: %w", err)
	}
	return counts, nil
}
