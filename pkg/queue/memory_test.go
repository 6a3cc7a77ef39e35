package queue

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PriorityThenFIFO(t *testing.T) {
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	msgs := []*types.QueueMessage{
		{Kind: types.QueueMessageWork, ExecutionID: "low-1", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityLow},
		{Kind: types.QueueMessageWork, ExecutionID: "normal-1", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal},
		{Kind: types.QueueMessageWork, ExecutionID: "high-1", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh},
		{Kind: types.QueueMessageWork, ExecutionID: "normal-2", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal},
		{Kind: types.QueueMessageWork, ExecutionID: "high-2", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh},
	}
	for _, m := range msgs {
		require.NoError(t, backend.Enqueue(ctx, m))
	}

	var order []string
	for i := 0; i < len(msgs); i++ {
		msg, err := backend.Dequeue(ctx, "org-1", "cluster-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		order = append(order, msg.ExecutionID)
	}

	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low-1"}, order)
}

func TestMemoryBackend_ContendedPriorityOrdering(t *testing.T) {
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	// 10 high and 10 normal interleaved must dequeue as all high (in
	// enqueue order) followed by all normal.
	var want []string
	for i := 0; i < 10; i++ {
		high := &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: string(rune('A' + i)), OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh}
		normal := &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: string(rune('a' + i)), OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal}
		require.NoError(t, backend.Enqueue(ctx, high))
		require.NoError(t, backend.Enqueue(ctx, normal))
		want = append(want, high.ExecutionID)
	}
	for i := 0; i < 10; i++ {
		want = append(want, string(rune('a'+i)))
	}

	var got []string
	for i := 0; i < 20; i++ {
		msg, err := backend.Dequeue(ctx, "org-1", "cluster-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		got = append(got, msg.ExecutionID)
	}

	assert.Equal(t, want, got)
}

func TestMemoryBackend_DequeueTimeout(t *testing.T) {
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	msg, err := backend.Dequeue(ctx, "org-1", "empty-cluster", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemoryBackend_Requeue(t *testing.T) {
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	first := &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "first", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal}
	second := &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "second", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal}
	require.NoError(t, backend.Enqueue(ctx, first))
	require.NoError(t, backend.Enqueue(ctx, second))

	popped, err := backend.Dequeue(ctx, "org-1", "cluster-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", popped.ExecutionID)

	require.NoError(t, backend.Requeue(ctx, popped))

	next, err := backend.Dequeue(ctx, "org-1", "cluster-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", next.ExecutionID)
}

func TestMemoryBackend_QueueFull(t *testing.T) {
	backend := NewMemoryBackend(2)
	ctx := context.Background()

	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "a", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityNormal}))
	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "b", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh}))

	err := backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "c", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityLow})
	assert.ErrorIs(t, err, ErrQueueFull)

	// Other clusters are unaffected by one cluster's full queue.
	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "d", OrganizationID: "org-1", ClusterID: "cluster-2", Priority: types.PriorityNormal}))

	// A popped message can always be requeued, even at the bound.
	popped, err := backend.Dequeue(ctx, "org-1", "cluster-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, backend.Requeue(ctx, popped))
}

func TestMemoryBackend_Depth(t *testing.T) {
	backend := NewMemoryBackend(0)
	ctx := context.Background()

	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "a", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh}))
	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "b", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityHigh}))
	require.NoError(t, backend.Enqueue(ctx, &types.QueueMessage{Kind: types.QueueMessageWork, ExecutionID: "c", OrganizationID: "org-1", ClusterID: "cluster-1", Priority: types.PriorityLow}))

	depth, err := backend.Depth(ctx, "org-1", "cluster-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth[types.PriorityHigh])
	assert.Equal(t, int64(0), depth[types.PriorityNormal])
	assert.Equal(t, int64(1), depth[types.PriorityLow])
}
