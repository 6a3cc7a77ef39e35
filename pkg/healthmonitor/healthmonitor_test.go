package healthmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/controlplane/pkg/registry"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

// fakeStore records UpdateClusterStatus calls; every other Store method is
// unused by the monitor and panics if called (nil embedded interface), so a
// call here would signal a test relying on unexercised behavior.
type fakeStore struct {
	storage.Store
	statusUpdates map[string]types.ClusterStatus
	activeRows    []*types.Cluster
}

func newFakeStore() *fakeStore {
	return &fakeStore{statusUpdates: make(map[string]types.ClusterStatus)}
}

func (f *fakeStore) UpdateClusterStatus(_ context.Context, id string, status types.ClusterStatus) error {
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeStore) ListClustersByStatus(_ context.Context, status types.ClusterStatus) ([]*types.Cluster, error) {
	if status != types.ClusterStatusActive {
		return nil, nil
	}
	return f.activeRows, nil
}

func TestMonitor_SweepForceDetachesStaleConnection(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	mon := New(reg, store, 50*time.Millisecond)

	detached := false
	reg.Register("cluster-1", "org-1", func() { detached = true })
	time.Sleep(100 * time.Millisecond)

	mon.sweep()

	_, ok := reg.Lookup("cluster-1")
	assert.False(t, ok)
	assert.Equal(t, types.ClusterStatusInactive, store.statusUpdates["cluster-1"])
	assert.True(t, detached, "stale session must be asked to shut down")
}

func TestMonitor_SweepLeavesFreshConnection(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	mon := New(reg, store, time.Minute)

	reg.Register("cluster-1", "org-1", nil)

	mon.sweep()

	_, ok := reg.Lookup("cluster-1")
	assert.True(t, ok)
	assert.Empty(t, store.statusUpdates)
}

func TestMonitor_HeartbeatAtExactThresholdIsFresh(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	timeout := time.Hour
	mon := New(reg, store, timeout)

	conn, _ := reg.Register("cluster-1", "org-1", nil)
	conn.LastHeartbeat = time.Now().Add(-timeout)

	mon.sweepAt(conn.LastHeartbeat.Add(timeout)) // exactly at the boundary

	_, ok := reg.Lookup("cluster-1")
	assert.True(t, ok, "heartbeat at exactly the threshold must not detach")
}

func TestMonitor_SweepIgnoresSupersededConnection(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	mon := New(reg, store, 50*time.Millisecond)

	first, _ := reg.Register("cluster-1", "org-1", nil)
	time.Sleep(100 * time.Millisecond)
	reg.Register("cluster-1", "org-1", nil) // supersedes first before sweep runs

	mon.sweep()

	got, ok := reg.Lookup("cluster-1")
	require.True(t, ok)
	assert.NotEqual(t, first.Handle, got.Handle)
}

func TestMonitor_ReconcileDowngradesOrphanedActiveCluster(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	timeout := 50 * time.Millisecond
	mon := New(reg, store, timeout)

	store.activeRows = []*types.Cluster{
		{ID: "orphaned", Status: types.ClusterStatusActive, LastHeartbeat: time.Now().Add(-3 * timeout)},
		{ID: "recent", Status: types.ClusterStatusActive, LastHeartbeat: time.Now()},
	}

	mon.sweep()

	assert.Equal(t, types.ClusterStatusInactive, store.statusUpdates["orphaned"])
	_, touched := store.statusUpdates["recent"]
	assert.False(t, touched)
}

func TestMonitor_ReconcileLeavesAttachedCluster(t *testing.T) {
	reg := registry.New()
	store := newFakeStore()
	mon := New(reg, store, 50*time.Millisecond)

	reg.Register("attached", "org-1", nil)
	store.activeRows = []*types.Cluster{
		{ID: "attached", Status: types.ClusterStatusActive, LastHeartbeat: time.Now().Add(-time.Hour)},
	}

	mon.reconcile(context.Background(), time.Now())

	_, touched := store.statusUpdates["attached"]
	assert.False(t, touched, "a cluster with a live registry entry is never reconciled")
}
