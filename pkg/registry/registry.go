package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/controlplane/pkg/types"
)

// Registry is a process-local, in-memory index of attached cluster
// connections. It is safe for concurrent use. The registry holds only weak
// handles: it never closes a stream itself, it asks the owning session to
// detach through the connection's Detach capability.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*types.ClusterConnection
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*types.ClusterConnection)}
}

// Register records a new attach for clusterID, returning the new connection
// and whatever connection it displaced (nil if none). detach is the owning
// session's cooperative shutdown hook; the caller is responsible for
// invoking prev.Detach so the displaced session unwinds.
func (r *Registry) Register(clusterID, organizationID string, detach func()) (conn, prev *types.ClusterConnection) {
	conn = &types.ClusterConnection{
		ClusterID:      clusterID,
		OrganizationID: organizationID,
		Handle:         uuid.New().String(),
		ConnectedAt:    time.Now(),
		LastHeartbeat:  time.Now(),
		Detach:         detach,
	}

	r.mu.Lock()
	prev = r.byID[clusterID]
	r.byID[clusterID] = conn
	r.mu.Unlock()

	return conn, prev
}

// Unregister removes the connection record for clusterID only if it is
// still the one identified by handle. A mismatched handle means a newer
// attach has already superseded this one, and the call is a no-op: it
// reports false so the caller can tell the two cases apart, but never
// errors, since losing this race is expected and not a failure.
func (r *Registry) Unregister(clusterID, handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[clusterID]
	if !ok || current.Handle != handle {
		return false
	}
	delete(r.byID, clusterID)
	return true
}

// Lookup returns the current connection for clusterID, if any.
func (r *Registry) Lookup(clusterID string) (*types.ClusterConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byID[clusterID]
	return conn, ok
}

// IsCurrent reports whether handle still identifies clusterID's registered
// connection. Unlike Touch it records nothing: the send loop uses it to
// notice it has been superseded without forging heartbeat liveness.
func (r *Registry) IsCurrent(clusterID, handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.byID[clusterID]
	return ok && current.Handle == handle
}

// Touch updates the last-heartbeat time for clusterID's current connection,
// provided handle still matches. Returns false if the connection has since
// been superseded or removed.
func (r *Registry) Touch(clusterID, handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[clusterID]
	if !ok || current.Handle != handle {
		return false
	}
	current.LastHeartbeat = time.Now()
	return true
}

// Snapshot returns a copy of every currently registered connection, for use
// by the health monitor's sweep and the metrics collector. The copies share
// the live Detach capability so the monitor can force-detach through them.
func (r *Registry) Snapshot() []*types.ClusterConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*types.ClusterConnection, 0, len(r.byID))
	for _, conn := range r.byID {
		copied := *conn
		conns = append(conns, &copied)
	}
	return conns
}

// Len returns the number of currently attached connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
