package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/relayforge/controlplane/pkg/types"
)

// MemoryBackend is an in-process Backend for tests and single-node
// deployments run without Redis. State is held entirely in memory: a
// process restart loses every queued message. It is not a substitute for
// RedisBackend in any deployment that needs queued work to survive a
// control plane restart.
type MemoryBackend struct {
	mu       sync.Mutex
	lanes    map[string]map[types.Priority]*list.List
	notify   map[string]chan struct{}
	maxDepth int
}

// NewMemoryBackend creates an empty in-memory Backend. maxDepth bounds the
// total queued messages per (organization, cluster) across all lanes;
// 0 means unbounded.
func NewMemoryBackend(maxDepth int) *MemoryBackend {
	return &MemoryBackend{
		lanes:    make(map[string]map[types.Priority]*list.List),
		notify:   make(map[string]chan struct{}),
		maxDepth: maxDepth,
	}
}

func queueKey(organizationID, clusterID string) string {
	return organizationID + "/" + clusterID
}

func (b *MemoryBackend) laneFor(key string, priority types.Priority) *list.List {
	byPriority, ok := b.lanes[key]
	if !ok {
		byPriority = make(map[types.Priority]*list.List)
		b.lanes[key] = byPriority
	}
	lane, ok := byPriority[priority]
	if !ok {
		lane = list.New()
		byPriority[priority] = lane
	}
	return lane
}

func (b *MemoryBackend) depthLocked(key string) int {
	total := 0
	for _, p := range priorities {
		total += b.laneFor(key, p).Len()
	}
	return total
}

func (b *MemoryBackend) wake(key string) {
	ch, ok := b.notify[key]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *MemoryBackend) waitChan(key string) chan struct{} {
	ch, ok := b.notify[key]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[key] = ch
	}
	return ch
}

// Enqueue places msg onto the back of its priority lane.
func (b *MemoryBackend) Enqueue(_ context.Context, msg *types.QueueMessage) error {
	key := queueKey(msg.OrganizationID, msg.ClusterID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxDepth > 0 && b.depthLocked(key) >= b.maxDepth {
		return ErrQueueFull
	}
	b.laneFor(key, msg.Priority).PushBack(msg)
	b.wake(key)
	return nil
}

// Requeue places msg back at the front of its lane, ahead of everything
// else in its priority class.
func (b *MemoryBackend) Requeue(_ context.Context, msg *types.QueueMessage) error {
	key := queueKey(msg.OrganizationID, msg.ClusterID)

	b.mu.Lock()
	b.laneFor(key, msg.Priority).PushFront(msg)
	b.wake(key)
	b.mu.Unlock()
	return nil
}

// tryPop attempts a non-blocking pop across the key's lanes in priority order.
func (b *MemoryBackend) tryPop(key string) *types.QueueMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range priorities {
		lane := b.laneFor(key, p)
		if front := lane.Front(); front != nil {
			lane.Remove(front)
			return front.Value.(*types.QueueMessage)
		}
	}
	return nil
}

// Dequeue polls tryPop, parking on a per-key wake channel between
// attempts, until a message appears or wait elapses.
func (b *MemoryBackend) Dequeue(ctx context.Context, organizationID, clusterID string, wait time.Duration) (*types.QueueMessage, error) {
	key := queueKey(organizationID, clusterID)

	if msg := b.tryPop(key); msg != nil {
		return msg, nil
	}

	b.mu.Lock()
	wakeCh := b.waitChan(key)
	b.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wakeCh:
			if msg := b.tryPop(key); msg != nil {
				return msg, nil
			}
		}
	}
}

// Depth returns the current length of each of the key's priority lanes.
func (b *MemoryBackend) Depth(_ context.Context, organizationID, clusterID string) (map[types.Priority]int64, error) {
	key := queueKey(organizationID, clusterID)

	b.mu.Lock()
	defer b.mu.Unlock()

	depths := make(map[types.Priority]int64, len(priorities))
	for _, p := range priorities {
		depths[p] = int64(b.laneFor(key, p).Len())
	}
	return depths, nil
}

// Close is a no-op; MemoryBackend owns no external resources.
func (b *MemoryBackend) Close() error {
	return nil
}
