package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/controlplane/internal/storagetest"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/types"
)

func newTestMachine(t *testing.T) (*Machine, *storagetest.Store, *events.Broker) {
	t.Helper()
	store := storagetest.New()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	return NewMachine(store, broker), store, broker
}

func seedExecution(t *testing.T, store *storagetest.Store, status types.ExecutionStatus) *types.Execution {
	t.Helper()
	exec := &types.Execution{
		ID:             "ex-1",
		OrganizationID: "org-1",
		AgentName:      "summarize",
		ClusterID:      "cl-1",
		Status:         status,
	}
	require.NoError(t, store.CreateExecution(context.Background(), exec))
	return exec
}

func TestTransition_QueuedToRunning(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	seedExecution(t, store, types.ExecutionStatusQueued)

	err := machine.Transition(context.Background(), "org-1", StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusRunning,
		AgentID:     "ag-1",
	})
	require.NoError(t, err)

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, got.Status)
	assert.Equal(t, "ag-1", got.AgentID)
	assert.False(t, got.StartedAt.IsZero())
}

func TestTransition_RunningToCompleted(t *testing.T) {
	machine, store, broker := newTestMachine(t)
	seedExecution(t, store, types.ExecutionStatusRunning)

	sub, cancel := broker.Subscribe()
	defer cancel()

	err := machine.Transition(context.Background(), "org-1", StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusCompleted,
		Result:      []byte(`{"ok":true}`),
		DurationMS:  123,
	})
	require.NoError(t, err)

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, []byte(`{"ok":true}`), got.Result)
	assert.Equal(t, int64(123), got.DurationMS)
	assert.False(t, got.CompletedAt.IsZero())

	event := <-sub
	assert.Equal(t, events.EventExecutionCompleted, event.Type)
}

func TestTransition_TerminalReplayIsNoOp(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	seedExecution(t, store, types.ExecutionStatusRunning)

	complete := StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusCompleted,
		Result:      []byte(`{"ok":true}`),
		DurationMS:  123,
	}
	require.NoError(t, machine.Transition(context.Background(), "org-1", complete))

	// Replaying the COMPLETED frame, or reporting FAILED afterwards, must
	// leave the first result untouched.
	require.NoError(t, machine.Transition(context.Background(), "org-1", complete))
	require.NoError(t, machine.Transition(context.Background(), "org-1", StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusFailed,
		Error:       "late failure report",
	}))

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, []byte(`{"ok":true}`), got.Result)
	assert.Empty(t, got.Error)
}

func TestTransition_IllegalBackwardsMoveIgnored(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	seedExecution(t, store, types.ExecutionStatusRunning)

	require.NoError(t, machine.Transition(context.Background(), "org-1", StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusQueued,
	}))

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, got.Status)
}

func TestTransition_CrossOrganizationReportDropped(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	seedExecution(t, store, types.ExecutionStatusQueued)

	require.NoError(t, machine.Transition(context.Background(), "org-other", StatusReport{
		ExecutionID: "ex-1",
		Status:      types.ExecutionStatusRunning,
	}))

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, got.Status, "foreign report must not advance the execution")
}

func TestTransition_UnknownExecution(t *testing.T) {
	machine, _, _ := newTestMachine(t)

	err := machine.Transition(context.Background(), "org-1", StatusReport{
		ExecutionID: "missing",
		Status:      types.ExecutionStatusRunning,
	})
	assert.Error(t, err)
}

func TestMarkQueued(t *testing.T) {
	machine, store, _ := newTestMachine(t)
	exec := seedExecution(t, store, types.ExecutionStatusPending)
	exec.ClusterID = ""

	require.NoError(t, machine.MarkQueued(context.Background(), "ex-1", "cl-9"))

	got, err := store.GetExecution(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, got.Status)
	assert.Equal(t, "cl-9", got.ClusterID)
	assert.False(t, got.QueuedAt.IsZero())
}
