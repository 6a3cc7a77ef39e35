package healthmonitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayforge/controlplane/pkg/log"
	"github.com/relayforge/controlplane/pkg/metrics"
	"github.com/relayforge/controlplane/pkg/registry"
	"github.com/relayforge/controlplane/pkg/storage"
	"github.com/relayforge/controlplane/pkg/types"
)

const (
	sweepInterval    = 30 * time.Second
	heartbeatTimeout = 120 * time.Second
)

// Monitor periodically sweeps the connection registry for stale sessions
// and reconciles storage against it.
type Monitor struct {
	registry *registry.Registry
	store    storage.Store
	logger   zerolog.Logger
	stopCh   chan struct{}

	// heartbeatTimeout is configurable so tests can shrink the staleness
	// window instead of waiting on the real one.
	heartbeatTimeout time.Duration
}

// New creates a Monitor sweeping reg against store every sweepInterval,
// using the HEARTBEAT_TIMEOUT_MS-derived timeout.
func New(reg *registry.Registry, store storage.Store, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = heartbeatTimeout
	}
	return &Monitor{
		registry:         reg,
		store:            store,
		logger:           log.WithComponent("healthmonitor"),
		stopCh:           make(chan struct{}),
		heartbeatTimeout: timeout,
	}
}

// Start begins the sweep loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep force-detaches any connection whose last heartbeat is strictly
// older than heartbeatTimeout, then reconciles clusters storage still
// believes are ACTIVE but the registry no longer tracks. A heartbeat at
// exactly the threshold is still fresh. Both passes are idempotent and
// safe against concurrent attach/detach: every registry mutation goes
// through the handle-equality check, so a fresh successor session is never
// evicted by a sweep that observed its predecessor.
func (m *Monitor) sweep() {
	m.sweepAt(time.Now())
}

// sweepAt runs one sweep with heartbeat ages measured against now.
func (m *Monitor) sweepAt(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, conn := range m.registry.Snapshot() {
		if now.Sub(conn.LastHeartbeat) <= m.heartbeatTimeout {
			continue
		}

		removed := m.registry.Unregister(conn.ClusterID, conn.Handle)
		if !removed {
			continue
		}

		metrics.SessionForceDetachesTotal.WithLabelValues("heartbeat_timeout").Inc()
		m.logger.Warn().
			Str("cluster_id", conn.ClusterID).
			Time("last_heartbeat", conn.LastHeartbeat).
			Msg("force-detaching stale session")

		if err := m.store.UpdateClusterStatus(ctx, conn.ClusterID, types.ClusterStatusInactive); err != nil {
			m.logger.Error().Err(err).Str("cluster_id", conn.ClusterID).Msg("failed to mark cluster inactive")
		}

		// The slot is already empty, so the session infers a forced
		// detach rather than a replacement when it unwinds.
		if conn.Detach != nil {
			conn.Detach()
		}
	}

	m.reconcile(ctx, now)
}

// reconcile downgrades clusters storage holds ACTIVE but the registry has
// not tracked for more than twice the staleness threshold. This catches
// rows orphaned by a crash between detach and the status write.
func (m *Monitor) reconcile(ctx context.Context, now time.Time) {
	clusters, err := m.store.ListClustersByStatus(ctx, types.ClusterStatusActive)
	if err != nil {
		m.logger.Error().Err(err).Msg("listing active clusters for reconcile failed")
		return
	}

	for _, cluster := range clusters {
		if _, attached := m.registry.Lookup(cluster.ID); attached {
			continue
		}
		if !cluster.LastHeartbeat.IsZero() && now.Sub(cluster.LastHeartbeat) <= 2*m.heartbeatTimeout {
			continue
		}

		m.logger.Warn().
			Str("cluster_id", cluster.ID).
			Time("last_heartbeat", cluster.LastHeartbeat).
			Msg("reconciling orphaned active cluster to inactive")

		if err := m.store.UpdateClusterStatus(ctx, cluster.ID, types.ClusterStatusInactive); err != nil {
			m.logger.Error().Err(err).Str("cluster_id", cluster.ID).Msg("failed to reconcile cluster status")
		}
	}
}
