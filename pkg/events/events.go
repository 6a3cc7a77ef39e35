package events

import (
	"sync"
	"time"

	"github.com/relayforge/controlplane/pkg/metrics"
)

// EventType names a lifecycle event emitted by the control plane core.
type EventType string

const (
	EventExecutionQueued    EventType = "execution.queued"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"

	EventAgentRegistrationChanged EventType = "agent_registration.changed"

	EventClusterAttached EventType = "cluster.attached"
	EventClusterDetached EventType = "cluster.detached"
)

// Event is one lifecycle notification. The downstream durable-workflow
// engine consumes these; delivery is at-least-once into the broker, and
// consumers reconcile against storage rather than treating the stream as
// the system of record.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// subscriberBuffer is each subscriber's channel depth. The dominant event
// source is execution churn: one queued event per submission plus up to
// three more over its lifetime, bursting when an attached session drains
// a backlogged cluster. 256 holds the four lifecycle events of 64
// executions before a consumer doing per-event I/O falls behind far
// enough to lose anything.
const subscriberBuffer = 256

// Broker fans lifecycle events out to subscribers. Publish is synchronous
// and never blocks: publishers sit on the dispatch and ingest hot paths,
// so delivery to each subscriber is a non-blocking send onto that
// subscriber's own buffered channel, and a subscriber that has fallen
// more than subscriberBuffer events behind loses the event. Losses are
// counted per event type, not silent.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan *Event
	nextID uint64
	closed bool
}

// NewBroker creates a Broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan *Event)}
}

// Subscribe registers a new consumer and returns its receive channel
// along with a cancel function. The channel is closed by cancel or by
// Close, whichever comes first; cancel is idempotent. Subscribing to a
// closed broker returns an already-closed channel.
func (b *Broker) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers event to every current subscriber without blocking,
// stamping the timestamp if the producer left it zero. Publishing to a
// closed broker drops the event.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// Close shuts the broker down: every subscriber channel is closed and
// later publishes are dropped. Safe to call more than once.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
