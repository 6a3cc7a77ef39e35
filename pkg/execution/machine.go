package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// legalTransitions maps a current status to the set of statuses a request
// may move it to. Anything not listed here, including any transition out of
// a terminal status, is rejected as illegal (except the terminal-to-same-
// terminal replay case, handled separately as a no-op).
var legalTransitions = map[types.ExecutionStatus][]types.ExecutionStatus{
	types.ExecutionStatusPending: {types.ExecutionStatusQueued},
	types.ExecutionStatusQueued:  {types.ExecutionStatusRunning},
	types.ExecutionStatusRunning: {types.ExecutionStatusCompleted, types.ExecutionStatusFailed},
}

func isLegal(from, to types.ExecutionStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StatusReport carries a relayer-reported execution status change into the
// state machine.
type StatusReport struct {
	ExecutionID string
	Status      types.ExecutionStatus
	AgentID     string
	Result      []byte
	Error       string
	DurationMS  int64
}

// Machine applies execution lifecycle transitions.
type Machine struct {
	store  storage.Store
	events *events.Broker
	logger zerolog.Logger
}

// NewMachine creates a Machine over store, publishing lifecycle events to broker.
func NewMachine(store storage.Store, broker *events.Broker) *Machine {
	return &Machine{
		store:  store,
		events: broker,
		logger: log.WithComponent("execution"),
	}
}

// MarkQueued binds a PENDING execution to clusterID and stamps it QUEUED,
// publishing the lifecycle event.
func (m *Machine) MarkQueued(ctx context.Context, executionID, clusterID string) error {
	if err := m.store.AssignExecutionCluster(ctx, executionID, clusterID); err != nil {
		return fmt.Errorf("assigning execution to cluster: %w", err)
	}

	metrics.ExecutionTransitionsTotal.WithLabelValues(
		string(types.ExecutionStatusPending), string(types.ExecutionStatusQueued)).Inc()
	m.publish(events.EventExecutionQueued, executionID)
	return nil
}

// Transition applies a relayer-reported status change. organizationID is
// the tenant of the reporting stream: a report for an execution outside
// that organization is dropped without touching it. A report against an
// execution already in a terminal status is a no-op, matching
// at-least-once delivery of status frames. A report that is neither the
// current status nor a legal forward move is also a no-op, logged at warn
// rather than surfaced as an error, since the caller (a relayer relaying
// an agent's report) has no useful recovery path.
func (m *Machine) Transition(ctx context.Context, organizationID string, report StatusReport) error {
	current, err := m.store.GetExecution(ctx, report.ExecutionID)
	if err != nil {
		return fmt.Errorf("loading execution: %w", err)
	}

	if current.OrganizationID != organizationID {
		m.logger.Warn().
			Str("execution_id", report.ExecutionID).
			Str("reporting_organization_id", organizationID).
			Msg("dropping status report for execution outside reporter's organization")
		return nil
	}

	if current.Status.Terminal() {
		m.logger.Debug().
			Str("execution_id", report.ExecutionID).
			Str("status", string(current.Status)).
			Msg("ignoring transition against terminal execution")
		return nil
	}

	to := report.Status
	if current.Status == to {
		return nil
	}

	if !isLegal(current.Status, to) {
		m.logger.Warn().
			Str("execution_id", report.ExecutionID).
			Str("from", string(current.Status)).
			Str("to", string(to)).
			Msg("rejected illegal execution transition")
		return nil
	}

	if to.Terminal() {
		if err := m.store.CompleteExecution(ctx, report.ExecutionID, to, report.Result, report.Error, report.DurationMS); err != nil {
			return fmt.Errorf("completing execution: %w", err)
		}
		if report.DurationMS > 0 {
			metrics.ExecutionDuration.Observe(float64(report.DurationMS) / 1000)
		}
	} else {
		if err := m.store.UpdateExecutionStatus(ctx, report.ExecutionID, to, report.AgentID); err != nil {
			return fmt.Errorf("updating execution status: %w", err)
		}
	}

	metrics.ExecutionTransitionsTotal.WithLabelValues(string(current.Status), string(to)).Inc()

	switch to {
	case types.ExecutionStatusRunning:
		m.publish(events.EventExecutionStarted, report.ExecutionID)
	case types.ExecutionStatusCompleted:
		m.publish(events.EventExecutionCompleted, report.ExecutionID)
	case types.ExecutionStatusFailed:
		m.publish(events.EventExecutionFailed, report.ExecutionID)
	}

	return nil
}

func (m *Machine) publish(eventType events.EventType, executionID string) {
	m.events.Publish(&events.Event{
		Type:    eventType,
		Message: fmt.Sprintf("execution %s %s", executionID, eventType),
		Metadata: map[string]string{
			"execution_id": executionID,
		},
	})
}
