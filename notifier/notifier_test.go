package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	n := New()
	a := n.Subscribe()
	b := n.Subscribe()

	n.Publish(EventRunChanged, "payload")

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	ev := <-a
	assert.Equal(t, EventRunChanged, ev.Kind)
	assert.Equal(t, "payload", ev.Payload)
}

func TestPublishPreservesOrderPerKind(t *testing.T) {
	n := New()
	ch := n.Subscribe()

	n.Publish(EventSyncProgress, 1)
	n.Publish(EventSyncProgress, 2)
	n.Publish(EventSyncProgress, 3)

	assert.Equal(t, 1, (<-ch).Payload)
	assert.Equal(t, 2, (<-ch).Payload)
	assert.Equal(t, 3, (<-ch).Payload)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	n := New()
	ch := n.Subscribe()

	// fill the subscriber's buffer and keep publishing; the
	// publisher must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			n.Publish(EventRunChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, cap(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := New()
	ch := n.Subscribe()
	n.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)

	// publishing after unsubscribe must not panic
	n.Publish(EventRunChanged, nil)
}

func TestDebounceCoalescesSameKind(t *testing.T) {
	in := make(chan Event, 16)
	out := Debounce(in, 20*time.Millisecond)

	in <- Event{Kind: EventSyncProgress, Payload: 1}
	in <- Event{Kind: EventSyncProgress, Payload: 2}
	in <- Event{Kind: EventSyncProgress, Payload: 3}

	select {
	case ev := <-out:
		assert.Equal(t, EventSyncProgress, ev.Kind)
		assert.Equal(t, 3, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("debounced event never arrived")
	}

	close(in)
	_, ok := <-out
	assert.False(t, ok)
}

func TestDebounceKeepsDistinctKinds(t *testing.T) {
	in := make(chan Event, 16)
	out := Debounce(in, 20*time.Millisecond)

	in <- Event{Kind: EventSyncProgress, Payload: "progress"}
	in <- Event{Kind: EventRateLimitUpdate, Payload: "rate"}
	close(in)

	kinds := map[EventKind]bool{}
	for ev := range out {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[EventSyncProgress])
	assert.True(t, kinds[EventRateLimitUpdate])
}
