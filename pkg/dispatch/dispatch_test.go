package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/controlplane/internal/storagetest"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/execution"
	"github.com/relayforge/controlplane/pkg/types"
	"github.com/relayforge/controlplane/pkg/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *storagetest.Store) {
	t.Helper()
	store := storagetest.New()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	return NewDispatcher(store, execution.NewMachine(store, broker), broker), store
}

func attachedCluster() *types.Cluster {
	return &types.Cluster{ID: "cl-1", OrganizationID: "org-1", Name: "prod", Status: types.ClusterStatusActive}
}

func TestHandle_ExecutionStatusStartingMapsToRunning(t *testing.T) {
	d, store := newTestDispatcher(t)
	require.NoError(t, store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-1", OrganizationID: "org-1", Status: types.ExecutionStatusQueued,
	}))

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameExecutionStatus,
		ExecutionStatus: &wire.ExecutionStatusFrame{
			ExecutionID: "ex-1",
			Status:      "starting",
		},
	})

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, got.Status)
}

func TestHandle_LogBatchScopedToCluster(t *testing.T) {
	d, store := newTestDispatcher(t)
	require.NoError(t, store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-1", OrganizationID: "org-1", Status: types.ExecutionStatusRunning,
	}))

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameLogBatch,
		LogBatch: &wire.LogBatchFrame{Entries: []*types.LogEntry{
			{ExecutionID: "ex-1", Timestamp: time.Now(), Level: "info", Message: "hello"},
		}},
	})

	require.Len(t, store.LogEntries, 1)
	assert.Equal(t, "org-1", store.LogEntries[0].OrganizationID)
	assert.Equal(t, "cl-1", store.LogEntries[0].ClusterID)
	assert.NotEmpty(t, store.LogEntries[0].ID)
}

func TestHandle_CrossTenantLogBatchDropped(t *testing.T) {
	d, store := newTestDispatcher(t)
	// Execution belongs to org-A; the stream is attached as org-1.
	require.NoError(t, store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-foreign", OrganizationID: "org-A", Status: types.ExecutionStatusRunning,
	}))

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameLogBatch,
		LogBatch: &wire.LogBatchFrame{Entries: []*types.LogEntry{
			{ExecutionID: "ex-foreign", Timestamp: time.Now(), Level: "info", Message: "poison"},
		}},
	})

	assert.Empty(t, store.LogEntries, "no row may land in either tenant's table")
}

func TestHandle_OversizedLogBatchDropped(t *testing.T) {
	d, store := newTestDispatcher(t)

	entries := make([]*types.LogEntry, types.MaxLogBatchSize+1)
	for i := range entries {
		entries[i] = &types.LogEntry{Timestamp: time.Now(), Level: "info", Message: "x"}
	}

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind:     wire.ClientFrameLogBatch,
		LogBatch: &wire.LogBatchFrame{Entries: entries},
	})

	assert.Empty(t, store.LogEntries)
}

func TestHandle_CrossTenantTraceBatchDropped(t *testing.T) {
	d, store := newTestDispatcher(t)
	require.NoError(t, store.CreateExecution(context.Background(), &types.Execution{
		ID: "ex-foreign", OrganizationID: "org-A", Status: types.ExecutionStatusRunning,
	}))

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameTraceBatch,
		TraceBatch: &wire.TraceBatchFrame{Spans: []*types.TraceSpan{
			{ExecutionID: "ex-foreign", TraceID: "t1", SpanID: "s1", Name: "op", StartedAt: time.Now()},
		}},
	})

	assert.Empty(t, store.TraceSpans)
}

func TestHandle_MetricBatchStampedWithClusterTenancy(t *testing.T) {
	d, store := newTestDispatcher(t)

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameMetricBatch,
		MetricBatch: &wire.MetricBatchFrame{Points: []*types.MetricPoint{
			{OrganizationID: "org-forged", Timestamp: time.Now(), Name: "cpu", Value: 0.5},
		}},
	})

	require.Len(t, store.MetricPoints, 1)
	assert.Equal(t, "org-1", store.MetricPoints[0].OrganizationID, "tenancy comes from the authenticated cluster, never the payload")
}

func TestHandle_HeartbeatPersistsClusterHeartbeat(t *testing.T) {
	d, store := newTestDispatcher(t)
	cluster := attachedCluster()
	require.NoError(t, store.CreateCluster(context.Background(), cluster))

	d.Handle(context.Background(), cluster, &wire.ClientFrame{Kind: wire.ClientFrameHeartbeat})

	assert.Eventually(t, func() bool {
		got, err := store.GetCluster(context.Background(), "cl-1")
		return err == nil && !got.LastHeartbeat.IsZero()
	}, time.Second, 10*time.Millisecond)
}

func TestHandle_AgentRegistrationStatusUpdatesAgent(t *testing.T) {
	d, store := newTestDispatcher(t)
	require.NoError(t, store.CreateAgent(context.Background(), &types.Agent{
		ID: "ag-1", OrganizationID: "org-1", Name: "summarize", Status: types.AgentStatusDeploying,
	}))

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameAgentRegistration,
		AgentRegistration: &wire.AgentRegistrationStatusFrame{
			AgentName: "summarize",
			Status:    types.AgentStatusActive,
		},
	})

	got, err := store.GetAgent(context.Background(), "ag-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusActive, got.Status)
	assert.Equal(t, "cl-1", got.ClusterID)
}

func TestHandle_AgentRegistrationStatusForUnknownAgentDropped(t *testing.T) {
	d, store := newTestDispatcher(t)

	d.Handle(context.Background(), attachedCluster(), &wire.ClientFrame{
		Kind: wire.ClientFrameAgentRegistration,
		AgentRegistration: &wire.AgentRegistrationStatusFrame{
			AgentName: "never-created",
			Status:    types.AgentStatusActive,
		},
	})

	assert.Empty(t, store.Agents)
}
