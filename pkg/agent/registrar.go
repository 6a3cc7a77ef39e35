package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// Action describes what Apply did with an agent definition.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Spec is a deployable agent definition as submitted by a caller.
type Spec struct {
	Name                 string
	Image                string
	Resources            []byte
	RetryPolicy          []byte
	EnvironmentVariables []byte
}

// ConfigHash digests the deployable parts of a spec. Two specs with the
// same hash deploy identically, so re-applying one is a no-op.
func (s Spec) ConfigHash() string {
	h := sha256.New()
	h.Write([]byte(s.Name))
	h.Write([]byte{0})
	h.Write([]byte(s.Image))
	h.Write([]byte{0})
	h.Write(s.Resources)
	h.Write([]byte{0})
	h.Write(s.RetryPolicy)
	h.Write([]byte{0})
	h.Write(s.EnvironmentVariables)
	return hex.EncodeToString(h.Sum(nil))
}

// Registrar owns the agent definition lifecycle: persisting definitions
// and pushing them to the organization's attached relayers through the
// work queue.
type Registrar struct {
	store  storage.Store
	queue  queue.Backend
	logger zerolog.Logger
}

// NewRegistrar creates a Registrar over store and q.
func NewRegistrar(store storage.Store, q queue.Backend) *Registrar {
	return &Registrar{
		store:  store,
		queue:  q,
		logger: log.WithComponent("agent"),
	}
}

// Apply creates or updates the agent named spec.Name under organizationID.
// Re-applying an identical definition (same name and config hash) changes
// nothing and pushes nothing. A created or changed definition is persisted
// and then pushed as an agent_registration message to every ACTIVE cluster
// in the organization, at high priority so deployments are not starved by
// a deep work backlog.
func (r *Registrar) Apply(ctx context.Context, organizationID string, spec Spec) (*types.Agent, Action, error) {
	hash := spec.ConfigHash()
	now := time.Now()

	existing, err := r.store.GetAgentByName(ctx, organizationID, spec.Name)
	switch {
	case err == nil:
		if existing.ConfigHash == hash {
			return existing, ActionUnchanged, nil
		}
		existing.Image = spec.Image
		existing.Resources = spec.Resources
		existing.RetryPolicy = spec.RetryPolicy
		existing.EnvironmentVariables = spec.EnvironmentVariables
		existing.ConfigHash = hash
		if err := r.store.UpdateAgentConfig(ctx, existing); err != nil {
			return nil, "", fmt.Errorf("updating agent: %w", err)
		}
		if err := r.push(ctx, existing); err != nil {
			return nil, "", err
		}
		return existing, ActionUpdated, nil

	case err == storage.ErrNotFound:
		created := &types.Agent{
			ID:                   uuid.New().String(),
			OrganizationID:       organizationID,
			Name:                 spec.Name,
			Image:                spec.Image,
			Resources:            spec.Resources,
			RetryPolicy:          spec.RetryPolicy,
			EnvironmentVariables: spec.EnvironmentVariables,
			ConfigHash:           hash,
			Status:               types.AgentStatusPending,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := r.store.CreateAgent(ctx, created); err != nil {
			return nil, "", err
		}
		if err := r.push(ctx, created); err != nil {
			return nil, "", err
		}
		return created, ActionCreated, nil

	default:
		return nil, "", fmt.Errorf("looking up agent: %w", err)
	}
}

// push enqueues an agent_registration message for every ACTIVE cluster in
// the agent's organization. With no ACTIVE cluster nothing is sent and the
// definition stays in storage only; a cluster that attaches later receives
// it only when a changed definition is applied, since re-applying an
// identical one pushes nothing.
func (r *Registrar) push(ctx context.Context, agent *types.Agent) error {
	clusters, err := r.store.ListClustersByOrganization(ctx, agent.OrganizationID)
	if err != nil {
		return fmt.Errorf("listing clusters for registration push: %w", err)
	}

	for _, cluster := range clusters {
		if cluster.Status != types.ClusterStatusActive {
			continue
		}
		msg := &types.QueueMessage{
			Kind:           types.QueueMessageRegistration,
			OrganizationID: agent.OrganizationID,
			ClusterID:      cluster.ID,
			Priority:       types.PriorityHigh,
			EnqueuedAt:     time.Now(),
			Registration: &types.AgentRegistration{
				AgentID:              agent.ID,
				Name:                 agent.Name,
				Image:                agent.Image,
				Resources:            agent.Resources,
				RetryPolicy:          agent.RetryPolicy,
				EnvironmentVariables: agent.EnvironmentVariables,
				ConfigHash:           agent.ConfigHash,
			},
		}
		if err := r.queue.Enqueue(ctx, msg); err != nil {
			r.logger.Error().Err(err).
				Str("agent_id", agent.ID).
				Str("cluster_id", cluster.ID).
				Msg("enqueuing agent registration failed")
			continue
		}
		if err := r.store.UpdateAgentStatus(ctx, agent.ID, cluster.ID, types.AgentStatusDeploying, time.Now()); err != nil {
			r.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("marking agent deploying failed")
		}
	}
	return nil
}
