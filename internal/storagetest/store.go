// Package storagetest provides an in-memory storage.Store for package
// tests, so state-machine and handler behavior can be exercised without a
// Postgres instance.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// Store is a mutex-guarded, map-backed storage.Store. Zero value is not
// usable; construct with New.
type Store struct {
	mu            sync.Mutex
	Organizations map[string]*types.Organization
	APIKeys       map[string]*types.APIKey
	Clusters      map[string]*types.Cluster
	Agents        map[string]*types.Agent
	Executions    map[string]*types.Execution
	LogEntries    []*types.LogEntry
	MetricPoints  []*types.MetricPoint
	TraceSpans    []*types.TraceSpan
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		Organizations: make(map[string]*types.Organization),
		APIKeys:       make(map[string]*types.APIKey),
		Clusters:      make(map[string]*types.Cluster),
		Agents:        make(map[string]*types.Agent),
		Executions:    make(map[string]*types.Execution),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) CreateOrganization(_ context.Context, org *types.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Organizations[org.ID] = org
	return nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (*types.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.Organizations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return org, nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APIKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*types.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []*types.APIKey
	for _, k := range s.APIKeys {
		if k.KeyPrefix == prefix && k.Valid(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) TouchAPIKeyLastUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.APIKeys[id]; ok {
		k.LastUsedAt = time.Now()
	}
	return nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.APIKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.RevokedAt = time.Now()
	return nil
}

func (s *Store) CreateCluster(_ context.Context, cluster *types.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Clusters {
		if c.OrganizationID == cluster.OrganizationID && c.Name == cluster.Name {
			return storage.ErrConflict
		}
	}
	s.Clusters[cluster.ID] = cluster
	return nil
}

func (s *Store) GetCluster(_ context.Context, id string) (*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clusters[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetClusterByName(_ context.Context, organizationID, name string) (*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Clusters {
		if c.OrganizationID == organizationID && c.Name == name {
			return c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListClustersByOrganization(_ context.Context, organizationID string) ([]*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var clusters []*types.Cluster
	for _, c := range s.Clusters {
		if c.OrganizationID == organizationID {
			clusters = append(clusters, c)
		}
	}
	return clusters, nil
}

func (s *Store) ListClustersByStatus(_ context.Context, status types.ClusterStatus) ([]*types.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var clusters []*types.Cluster
	for _, c := range s.Clusters {
		if c.Status == status {
			clusters = append(clusters, c)
		}
	}
	return clusters, nil
}

func (s *Store) UpdateClusterStatus(_ context.Context, id string, status types.ClusterStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clusters[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) UpdateClusterHeartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clusters[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.LastHeartbeat = at
	return nil
}

func (s *Store) UpdateClusterAttach(_ context.Context, id, relayerVersion string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Clusters[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = types.ClusterStatusActive
	if relayerVersion != "" {
		c.RelayerVersion = relayerVersion
	}
	c.LastHeartbeat = at
	return nil
}

func (s *Store) CreateAgent(_ context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Agents {
		if a.OrganizationID == agent.OrganizationID && a.Name == agent.Name {
			return storage.ErrConflict
		}
	}
	s.Agents[agent.ID] = agent
	return nil
}

func (s *Store) UpdateAgentConfig(_ context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.Agents[agent.ID]
	if !ok {
		return storage.ErrNotFound
	}
	stored.Image = agent.Image
	stored.Resources = agent.Resources
	stored.RetryPolicy = agent.RetryPolicy
	stored.EnvironmentVariables = agent.EnvironmentVariables
	stored.ConfigHash = agent.ConfigHash
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Agents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *Store) GetAgentByName(_ context.Context, organizationID, name string) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Agents {
		if a.OrganizationID == organizationID && a.Name == name {
			copied := *a
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListAgentsByOrganization(_ context.Context, organizationID string) ([]*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var agents []*types.Agent
	for _, a := range s.Agents {
		if a.OrganizationID == organizationID {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

func (s *Store) UpdateAgentStatus(_ context.Context, id, clusterID string, status types.AgentStatus, lastSeenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Agents[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Status = status
	a.ClusterID = clusterID
	a.LastSeenAt = lastSeenAt
	return nil
}

func (s *Store) CountAgentsByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, a := range s.Agents {
		counts[string(a.Status)]++
	}
	return counts, nil
}

func (s *Store) CreateExecution(_ context.Context, execution *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executions[execution.ID] = execution
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Executions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *Store) UpdateExecutionStatus(_ context.Context, id string, status types.ExecutionStatus, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Executions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status.Terminal() {
		return storage.ErrNotFound
	}
	e.Status = status
	switch status {
	case types.ExecutionStatusQueued:
		e.QueuedAt = time.Now()
	case types.ExecutionStatusRunning:
		if agentID != "" {
			e.AgentID = agentID
		}
		e.StartedAt = time.Now()
	}
	return nil
}

func (s *Store) AssignExecutionCluster(_ context.Context, id, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Executions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != types.ExecutionStatusPending {
		return storage.ErrNotFound
	}
	e.ClusterID = clusterID
	e.Status = types.ExecutionStatusQueued
	e.QueuedAt = time.Now()
	return nil
}

func (s *Store) CompleteExecution(_ context.Context, id string, status types.ExecutionStatus, result []byte, errMsg string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.Executions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status.Terminal() {
		return nil
	}
	e.Status = status
	e.Result = result
	e.Error = errMsg
	e.DurationMS = durationMS
	e.CompletedAt = time.Now()
	return nil
}

func (s *Store) ListExecutionsByOrganization(_ context.Context, organizationID string, limit int) ([]*types.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var executions []*types.Execution
	for _, e := range s.Executions {
		if e.OrganizationID == organizationID {
			executions = append(executions, e)
		}
		if limit > 0 && len(executions) == limit {
			break
		}
	}
	return executions, nil
}

func (s *Store) CountExecutionsByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range s.Executions {
		counts[string(e.Status)]++
	}
	return counts, nil
}

func (s *Store) InsertLogEntries(_ context.Context, entries []*types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LogEntries = append(s.LogEntries, entries...)
	return nil
}

func (s *Store) InsertMetricPoints(_ context.Context, points []*types.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MetricPoints = append(s.MetricPoints, points...)
	return nil
}

func (s *Store) InsertTraceSpans(_ context.Context, spans []*types.TraceSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TraceSpans = append(s.TraceSpans, spans...)
	return nil
}

func (s *Store) Close() {}
