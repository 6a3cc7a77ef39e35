package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/controlplane/internal/storagetest"
	"github.com/relayforge/controlplane/pkg/events"
	"github.com/relayforge/controlplane/pkg/queue"
	"github.com/relayforge/controlplane/pkg/types"
)

func newTestSubmitter(t *testing.T, maxDepth int) (*Submitter, *storagetest.Store, *queue.MemoryBackend) {
	t.Helper()
	store := storagetest.New()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	backend := queue.NewMemoryBackend(maxDepth)
	return NewSubmitter(NewMachine(store, broker), backend), store, backend
}

func testAgent() *types.Agent {
	return &types.Agent{ID: "ag-1", OrganizationID: "org-1", Name: "summarize", Status: types.AgentStatusActive}
}

func TestSubmit_WithActiveCluster(t *testing.T) {
	submitter, store, backend := newTestSubmitter(t, 0)
	require.NoError(t, store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-1", OrganizationID: "org-1", Name: "prod", Status: types.ClusterStatusActive,
	}))

	exec, err := submitter.Submit(context.Background(), SubmitParams{
		OrganizationID: "org-1",
		Agent:          testAgent(),
		Priority:       types.PriorityNormal,
		Payload:        []byte(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, exec.Status)
	assert.Equal(t, "cl-1", exec.ClusterID)

	msg, err := backend.Dequeue(context.Background(), "org-1", "cl-1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, types.QueueMessageWork, msg.Kind)
	assert.Equal(t, exec.ID, msg.ExecutionID)
	assert.Equal(t, "summarize", msg.AgentName)
	assert.Equal(t, []byte(`{"text":"hi"}`), msg.Payload)
}

func TestSubmit_NoActiveClusterStaysPending(t *testing.T) {
	submitter, store, backend := newTestSubmitter(t, 0)
	require.NoError(t, store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-1", OrganizationID: "org-1", Name: "prod", Status: types.ClusterStatusInactive,
	}))

	exec, err := submitter.Submit(context.Background(), SubmitParams{
		OrganizationID: "org-1",
		Agent:          testAgent(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusPending, exec.Status)
	assert.Empty(t, exec.ClusterID)

	msg, err := backend.Dequeue(context.Background(), "org-1", "cl-1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg, "nothing may be enqueued without an active cluster")
}

func TestSubmit_QueueFullLeavesExecutionPending(t *testing.T) {
	submitter, store, _ := newTestSubmitter(t, 1)
	require.NoError(t, store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-1", OrganizationID: "org-1", Name: "prod", Status: types.ClusterStatusActive,
	}))

	first, err := submitter.Submit(context.Background(), SubmitParams{OrganizationID: "org-1", Agent: testAgent()})
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusQueued, first.Status)

	second, err := submitter.Submit(context.Background(), SubmitParams{OrganizationID: "org-1", Agent: testAgent()})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	require.NotNil(t, second)
	assert.Equal(t, types.ExecutionStatusPending, second.Status)

	got, err := store.GetExecution(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusPending, got.Status)
}

func TestSelectCluster_StablePolicy(t *testing.T) {
	store := storagetest.New()
	require.NoError(t, store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-active", OrganizationID: "org-1", Name: "a", Status: types.ClusterStatusActive,
	}))
	require.NoError(t, store.CreateCluster(context.Background(), &types.Cluster{
		ID: "cl-pending", OrganizationID: "org-1", Name: "b", Status: types.ClusterStatusPending,
	}))

	cluster, err := SelectCluster(context.Background(), store, "org-1")
	require.NoError(t, err)
	require.NotNil(t, cluster)
	assert.Equal(t, "cl-active", cluster.ID)

	none, err := SelectCluster(context.Background(), store, "org-empty")
	require.NoError(t, err)
	assert.Nil(t, none)
}
