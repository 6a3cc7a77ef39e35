package queue

import (
	"context"
	"errors"
	"time"

	"github.com/relayforge/controlplane/pkg/types"
)

// ErrQueueFull is returned by Enqueue when a backend with a configured
// depth bound has no room left for the target cluster. Callers surface it
// to the submitter; the execution stays PENDING.
var ErrQueueFull = errors.New("queue: full")

// Backend is a per-(organization, cluster) priority work queue.
// Implementations must preserve priority-then-FIFO ordering: among ready
// messages, all HIGH messages dequeue before any NORMAL message, which
// dequeue before any LOW message, and messages within the same lane
// dequeue in enqueue order.
type Backend interface {
	// Enqueue places msg onto the lane for msg.Priority. Returns
	// ErrQueueFull if the cluster's depth bound is reached.
	Enqueue(ctx context.Context, msg *types.QueueMessage) error

	// Dequeue blocks up to wait for a message to become available on any
	// lane of (organizationID, clusterID), or returns (nil, nil) on
	// timeout. Single consumer per key: the attached session.
	Dequeue(ctx context.Context, organizationID, clusterID string, wait time.Duration) (*types.QueueMessage, error)

	// Requeue places msg back at the front of its lane. Used when a
	// dispatch attempt fails after a message has already been popped.
	// Requeue ignores any depth bound: a popped message always has a
	// slot to return to.
	Requeue(ctx context.Context, msg *types.QueueMessage) error

	// Depth returns the number of queued messages per priority lane for
	// (organizationID, clusterID).
	Depth(ctx context.Context, organizationID, clusterID string) (map[types.Priority]int64, error)

	Close() error
}

// priorities lists the lanes in dequeue precedence order.
var priorities = []types.Priority{types.PriorityHigh, types.PriorityNormal, types.PriorityLow}
