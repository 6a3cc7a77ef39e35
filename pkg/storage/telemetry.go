package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/relayforge/controlplane/pkg/types"
)

// InsertLogEntries bulk-inserts relayed log lines using pgx's batch pipeline.
func (p *Postgres) InsertLogEntries(ctx context.Context, entries []*types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `INSERT INTO log_entries (id, organization_id, cluster_id, agent_id, execution_id, timestamp, level, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, e := range entries {
		batch.Queue(query, e.ID, e.OrganizationID, e.ClusterID, e.AgentID, e.ExecutionID, e.Timestamp, e.Level, e.Message)
	}
	return p.sendBatch(ctx, batch, "log entries")
}

// InsertMetricPoints bulk-inserts relayed metric samples.
func (p *Postgres) InsertMetricPoints(ctx context.Context, points []*types.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `INSERT INTO metric_points (id, organization_id, cluster_id, agent_id, timestamp, name, value, labels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, m := range points {
		batch.Queue(query, m.ID, m.OrganizationID, m.ClusterID, m.AgentID, m.Timestamp, m.Name, m.Value, m.Labels)
	}
	return p.sendBatch(ctx, batch, "metric points")
}

// InsertTraceSpans bulk-inserts relayed trace spans.
func (p *Postgres) InsertTraceSpans(ctx context.Context, spans []*types.TraceSpan) error {
	if len(spans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `INSERT INTO trace_spans
		(id, organization_id, cluster_id, agent_id, execution_id, trace_id, span_id, parent_span_id, name, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, s := range spans {
		batch.Queue(query,
			s.ID, s.OrganizationID, s.ClusterID, s.AgentID, s.ExecutionID,
			s.TraceID, s.SpanID, s.ParentSpanID, s.Name, s.StartedAt, s.EndedAt,
		)
	}
	return p.sendBatch(ctx, batch, "trace spans")
}

func (p *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch, label string) error {
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting %s (item %d): %w", label, i, err)
		}
	}
	return nil
}
