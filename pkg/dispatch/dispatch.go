package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/execution"
	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
	"github.com/relayforge/controlplane/pkg/wire"
)

// Dispatcher routes inbound wire.ClientFrame values to the execution state
// machine, agent storage, or a telemetry batch insert. Handler failures
// are logged and the frame dropped; they never terminate the stream that
// carried the frame.
type Dispatcher struct {
	store   storage.Store
	machine *execution.Machine
	events  *events.Broker
	logger  zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the given dependencies.
func NewDispatcher(store storage.Store, machine *execution.Machine, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		store:   store,
		machine: machine,
		events:  broker,
		logger:  log.WithComponent("dispatch"),
	}
}

// Handle routes a single frame received on cluster's attached session.
func (d *Dispatcher) Handle(ctx context.Context, cluster *types.Cluster, frame *wire.ClientFrame) {
	switch frame.Kind {
	case wire.ClientFrameHeartbeat:
		d.handleHeartbeat(cluster)
	case wire.ClientFrameExecutionStatus:
		d.handleExecutionStatus(ctx, cluster, frame.ExecutionStatus)
	case wire.ClientFrameLogBatch:
		d.handleLogBatch(ctx, cluster, frame.LogBatch)
	case wire.ClientFrameMetricBatch:
		d.handleMetricBatch(ctx, cluster, frame.MetricBatch)
	case wire.ClientFrameTraceBatch:
		d.handleTraceBatch(ctx, cluster, frame.TraceBatch)
	case wire.ClientFrameAgentRegistration:
		d.handleAgentRegistrationStatus(ctx, cluster, frame.AgentRegistration)
	default:
		d.logger.Warn().Str("kind", string(frame.Kind)).Msg("unrecognized client frame kind")
	}
}

// handleHeartbeat persists the heartbeat time off the receive path. The
// registry's liveness record was already touched by the session loop; a
// failed row update costs nothing but staleness in the reconcile pass.
func (d *Dispatcher) handleHeartbeat(cluster *types.Cluster) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.UpdateClusterHeartbeat(ctx, cluster.ID, time.Now()); err != nil {
			d.logger.Warn().Err(err).Str("cluster_id", cluster.ID).Msg("persisting heartbeat failed")
		}
	}()
}

func (d *Dispatcher) handleExecutionStatus(ctx context.Context, cluster *types.Cluster, f *wire.ExecutionStatusFrame) {
	if f == nil {
		return
	}

	status := f.Status
	// Relayers report STARTING when the agent container is being brought
	// up; the control plane's state machine does not distinguish it from
	// RUNNING.
	if status == "starting" {
		status = types.ExecutionStatusRunning
	}

	err := d.machine.Transition(ctx, cluster.OrganizationID, execution.StatusReport{
		ExecutionID: f.ExecutionID,
		Status:      status,
		AgentID:     f.AgentID,
		Result:      f.Result,
		Error:       f.Error,
		DurationMS:  f.DurationMS,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("execution_id", f.ExecutionID).Msg("execution status transition failed")
	}
}

// resolvableExecutions returns the subset of executionIDs that resolve to
// executions owned by organizationID. Unresolvable or foreign IDs are
// dropped so one tenant's stream can never write rows against another
// tenant's executions.
func (d *Dispatcher) resolvableExecutions(ctx context.Context, organizationID string, executionIDs []string) map[string]bool {
	ok := make(map[string]bool, len(executionIDs))
	for _, id := range executionIDs {
		if id == "" {
			continue
		}
		if _, seen := ok[id]; seen {
			continue
		}
		exec, err := d.store.GetExecution(ctx, id)
		ok[id] = err == nil && exec.OrganizationID == organizationID
	}
	return ok
}

func (d *Dispatcher) handleLogBatch(ctx context.Context, cluster *types.Cluster, f *wire.LogBatchFrame) {
	if f == nil {
		return
	}
	if len(f.Entries) > types.MaxLogBatchSize {
		metrics.TelemetryBatchDroppedTotal.WithLabelValues("log_batch_too_large").Inc()
		d.logger.Warn().Int("size", len(f.Entries)).Msg("dropping oversized log batch")
		return
	}

	ids := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		ids = append(ids, e.ExecutionID)
	}
	resolvable := d.resolvableExecutions(ctx, cluster.OrganizationID, ids)

	kept := make([]*types.LogEntry, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.ExecutionID != "" && !resolvable[e.ExecutionID] {
			continue
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.OrganizationID = cluster.OrganizationID
		e.ClusterID = cluster.ID
		kept = append(kept, e)
	}
	if dropped := len(f.Entries) - len(kept); dropped > 0 {
		metrics.TelemetryBatchDroppedTotal.WithLabelValues("log_unresolvable_execution").Inc()
		d.logger.Warn().Int("dropped", dropped).Str("cluster_id", cluster.ID).
			Msg("dropping log entries with unresolvable execution")
	}
	if len(kept) == 0 {
		return
	}

	if err := d.store.InsertLogEntries(ctx, kept); err != nil {
		metrics.TelemetryBatchesTotal.WithLabelValues("log", "error").Inc()
		d.logger.Error().Err(err).Msg("inserting log entries failed")
		return
	}
	metrics.TelemetryBatchesTotal.WithLabelValues("log", "ok").Inc()
}

func (d *Dispatcher) handleMetricBatch(ctx context.Context, cluster *types.Cluster, f *wire.MetricBatchFrame) {
	if f == nil {
		return
	}
	if len(f.Points) > types.MaxMetricBatchSize {
		metrics.TelemetryBatchDroppedTotal.WithLabelValues("metric_batch_too_large").Inc()
		d.logger.Warn().Int("size", len(f.Points)).Msg("dropping oversized metric batch")
		return
	}

	for _, m := range f.Points {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		m.OrganizationID = cluster.OrganizationID
		m.ClusterID = cluster.ID
	}

	if err := d.store.InsertMetricPoints(ctx, f.Points); err != nil {
		metrics.TelemetryBatchesTotal.WithLabelValues("metric", "error").Inc()
		d.logger.Error().Err(err).Msg("inserting metric points failed")
		return
	}
	metrics.TelemetryBatchesTotal.WithLabelValues("metric", "ok").Inc()
}

func (d *Dispatcher) handleTraceBatch(ctx context.Context, cluster *types.Cluster, f *wire.TraceBatchFrame) {
	if f == nil {
		return
	}
	if len(f.Spans) > types.MaxTraceBatchSize {
		metrics.TelemetryBatchDroppedTotal.WithLabelValues("trace_batch_too_large").Inc()
		d.logger.Warn().Int("size", len(f.Spans)).Msg("dropping oversized trace batch")
		return
	}

	ids := make([]string, 0, len(f.Spans))
	for _, sp := range f.Spans {
		ids = append(ids, sp.ExecutionID)
	}
	resolvable := d.resolvableExecutions(ctx, cluster.OrganizationID, ids)

	kept := make([]*types.TraceSpan, 0, len(f.Spans))
	for _, sp := range f.Spans {
		if sp.ExecutionID != "" && !resolvable[sp.ExecutionID] {
			continue
		}
		if sp.ID == "" {
			sp.ID = uuid.New().String()
		}
		sp.OrganizationID = cluster.OrganizationID
		sp.ClusterID = cluster.ID
		kept = append(kept, sp)
	}
	if dropped := len(f.Spans) - len(kept); dropped > 0 {
		metrics.TelemetryBatchDroppedTotal.WithLabelValues("trace_unresolvable_execution").Inc()
		d.logger.Warn().Int("dropped", dropped).Str("cluster_id", cluster.ID).
			Msg("dropping trace spans with unresolvable execution")
	}
	if len(kept) == 0 {
		return
	}

	if err := d.store.InsertTraceSpans(ctx, kept); err != nil {
		metrics.TelemetryBatchesTotal.WithLabelValues("trace", "error").Inc()
		d.logger.Error().Err(err).Msg("inserting trace spans failed")
		return
	}
	metrics.TelemetryBatchesTotal.WithLabelValues("trace", "ok").Inc()
}

// handleAgentRegistrationStatus records the relayer-side outcome of an
// agent_registration push. Agents are created through the HTTP surface;
// a status report for an agent the organization does not own is dropped.
func (d *Dispatcher) handleAgentRegistrationStatus(ctx context.Context, cluster *types.Cluster, f *wire.AgentRegistrationStatusFrame) {
	if f == nil {
		return
	}

	agent, err := d.store.GetAgentByName(ctx, cluster.OrganizationID, f.AgentName)
	if err != nil {
		if err == storage.ErrNotFound {
			d.logger.Warn().
				Str("agent_name", f.AgentName).
				Str("cluster_id", cluster.ID).
				Msg("dropping registration status for unknown agent")
			return
		}
		d.logger.Error().Err(err).Str("agent_name", f.AgentName).Msg("looking up agent failed")
		return
	}

	if err := d.store.UpdateAgentStatus(ctx, agent.ID, cluster.ID, f.Status, time.Now()); err != nil {
		d.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("updating agent status failed")
		return
	}

	d.events.Publish(&events.Event{
		Type:    events.EventAgentRegistrationChanged,
		Message: "agent registration status changed",
		Metadata: map[string]string{
			"agent_id":   agent.ID,
			"cluster_id": cluster.ID,
			"status":     string(f.Status),
		},
	})
}
