package bus

import (
	"context"
	"testing"
	"time"

	"call-server/internal/observability"

	"github.com/stretchr/testify/assert"
)

func newTestBus(queueSize int) *Bus {
	return New(queueSize, observability.NewLogger())
}

func publishN(b *Bus, callID string, n int) {
	for i := 0; i < n; i++ {
		b.Publish(context.Background(), TranscriptEvent{
			CallID:    callID,
			Seq:       uint64(i + 1),
			Kind:      EventTranscript,
			Payload:   TranscriptPayload{Speaker: "customer", Text: "hello"},
			Timestamp: time.Now(),
		})
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("CA1")

	publishN(b, "CA1", 5)

	for i := 1; i <= 5; i++ {
		evt := <-sub.C
		assert.Equal(t, uint64(i), evt.Seq)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := newTestBus(2)
	sub := b.Subscribe("CA1")

	done := make(chan struct{})
	go func() {
		publishN(b, "CA1", 10)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The slow subscriber was disconnected: its channel is closed after the
	// buffered events.
	received := 0
	for range sub.C {
		received++
	}
	assert.Equal(t, 2, received)
	assert.Equal(t, 0, b.SubscriberCount("CA1"))
}

func TestEventsScopedByCall(t *testing.T) {
	b := newTestBus(16)
	sub1 := b.Subscribe("CA1")
	sub2 := b.Subscribe("CA2")

	publishN(b, "CA1", 1)

	evt := <-sub1.C
	assert.Equal(t, "CA1", evt.CallID)

	select {
	case <-sub2.C:
		t.Fatal("subscriber received another call's event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseCallReleasesSubscribers(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("CA1")

	b.CloseCall("CA1")

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("CA1"))
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	b := newTestBus(16)
	sub := b.Subscribe("CA1")

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.CloseCall("CA1")
}
