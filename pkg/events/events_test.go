package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishReachesEverySubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Publish(&Event{Type: EventExecutionQueued, Metadata: map[string]string{"execution_id": "ex-1"}})

	for _, sub := range []<-chan *Event{first, second} {
		event := <-sub
		assert.Equal(t, EventExecutionQueued, event.Type)
		assert.Equal(t, "ex-1", event.Metadata["execution_id"])
		assert.False(t, event.Timestamp.IsZero(), "publish stamps a missing timestamp")
	}
}

func TestBroker_SlowSubscriberLosesEventsWithoutBlocking(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, cancel := b.Subscribe()
	defer cancel()

	// One past the buffer: the last publish must drop, not block.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(&Event{Type: EventExecutionStarted})
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestBroker_CancelStopsDeliveryAndIsIdempotent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub, cancel := b.Subscribe()
	cancel()
	cancel() // second cancel must not panic on the closed channel

	b.Publish(&Event{Type: EventClusterAttached})

	_, open := <-sub
	assert.False(t, open, "cancelled subscription's channel is closed")
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker()

	sub, _ := b.Subscribe()
	b.Close()
	b.Close() // idempotent

	_, open := <-sub
	require.False(t, open)

	// Publishing after close is dropped, and late subscribers get an
	// already-closed channel.
	b.Publish(&Event{Type: EventClusterDetached})
	late, cancel := b.Subscribe()
	defer cancel()
	_, open = <-late
	assert.False(t, open)
}
