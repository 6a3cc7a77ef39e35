package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/types"
)

// Submitter creates executions and places them on their cluster's queue.
type Submitter struct {
	machine *Machine
	queue   queue.Backend
}

// NewSubmitter creates a Submitter over machine and q.
func NewSubmitter(machine *Machine, q queue.Backend) *Submitter {
	return &Submitter{machine: machine, queue: q}
}

// SubmitParams describes a new execution request. Agent has already been
// resolved and validated by the caller.
type SubmitParams struct {
	OrganizationID string
	Agent          *types.Agent
	Priority       types.Priority
	Payload        []byte
}

// Submit creates a PENDING execution, selects a cluster, and if one is
// ACTIVE enqueues a WORK message and stamps the execution QUEUED. With no
// ACTIVE cluster the execution is left PENDING and returned as accepted
// but not yet dispatched. A full queue also leaves the execution PENDING;
// the queue.ErrQueueFull error is returned alongside it so the caller can
// surface backpressure.
func (s *Submitter) Submit(ctx context.Context, p SubmitParams) (*types.Execution, error) {
	if p.Priority == "" {
		p.Priority = types.PriorityNormal
	}

	now := time.Now()
	exec := &types.Execution{
		ID:             uuid.New().String(),
		OrganizationID: p.OrganizationID,
		AgentID:        p.Agent.ID,
		AgentName:      p.Agent.Name,
		Priority:       p.Priority,
		Status:         types.ExecutionStatusPending,
		Payload:        p.Payload,
		Attempt:        1,
		CreatedAt:      now,
	}

	if err := s.machine.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}

	cluster, err := SelectCluster(ctx, s.machine.store, p.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("selecting cluster: %w", err)
	}
	if cluster == nil {
		return exec, nil
	}

	msg := &types.QueueMessage{
		Kind:           types.QueueMessageWork,
		OrganizationID: exec.OrganizationID,
		ClusterID:      cluster.ID,
		Priority:       exec.Priority,
		EnqueuedAt:     now,
		ExecutionID:    exec.ID,
		AgentName:      exec.AgentName,
		Payload:        exec.Payload,
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		if err == queue.ErrQueueFull {
			return exec, err
		}
		return nil, fmt.Errorf("enqueuing execution: %w", err)
	}
	metrics.QueueEnqueuedTotal.WithLabelValues(string(exec.Priority)).Inc()

	if err := s.machine.MarkQueued(ctx, exec.ID, cluster.ID); err != nil {
		return nil, err
	}
	exec.Status = types.ExecutionStatusQueued
	exec.ClusterID = cluster.ID
	exec.QueuedAt = now

	return exec, nil
}
