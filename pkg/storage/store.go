package storage

import (
	"context"
	"time"

	"github.com/relayforge/controlplane/pkg/types"
)

// Store defines the interface for control plane state persistence.
// It is implemented by *Postgres.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *types.APIKey) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
	RevokeAPIKey(ctx context.Context, id string) error

	// Clusters
	CreateCluster(ctx context.Context, cluster *types.Cluster) error
	GetCluster(ctx context.Context, id string) (*types.Cluster, error)
	GetClusterByName(ctx context.Context, organizationID, name string) (*types.Cluster, error)
	ListClustersByOrganization(ctx context.Context, organizationID string) ([]*types.Cluster, error)
	ListClustersByStatus(ctx context.Context, status types.ClusterStatus) ([]*types.Cluster, error)
	UpdateClusterStatus(ctx context.Context, id string, status types.ClusterStatus) error
	UpdateClusterHeartbeat(ctx context.Context, id string, at time.Time) error
	UpdateClusterAttach(ctx context.Context, id, relayerVersion string, at time.Time) error

	// Agents
	CreateAgent(ctx context.Context, agent *types.Agent) error
	UpdateAgentConfig(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	GetAgentByName(ctx context.Context, organizationID, name string) (*types.Agent, error)
	ListAgentsByOrganization(ctx context.Context, organizationID string) ([]*types.Agent, error)
	UpdateAgentStatus(ctx context.Context, id, clusterID string, status types.AgentStatus, lastSeenAt time.Time) error
	CountAgentsByStatus(ctx context.Context) (map[string]int64, error)

	// Executions
	CreateExecution(ctx context.Context, execution *types.Execution) error
	GetExecution(ctx context.Context, id string) (*types.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id string, status types.ExecutionStatus, agentID string) error
	AssignExecutionCluster(ctx context.Context, id, clusterID string) error
	CompleteExecution(ctx context.Context, id string, status types.ExecutionStatus, result []byte, errMsg string, durationMS int64) error
	ListExecutionsByOrganization(ctx context.Context, organizationID string, limit int) ([]*types.Execution, error)
	CountExecutionsByStatus(ctx context.Context) (map[string]int64, error)

	// Telemetry
	InsertLogEntries(ctx context.Context, entries []*types.LogEntry) error
	InsertMetricPoints(ctx context.Context, points []*types.MetricPoint) error
	InsertTraceSpans(ctx context.Context, spans []*types.TraceSpan) error

	Close()
}
