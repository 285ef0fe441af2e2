package notifier

import (
	"sync"
)

type EventKind string

const (
	EventRunChanged      EventKind = "run-changed"
	EventJobsChanged     EventKind = "jobs-changed"
	EventSyncProgress    EventKind = "sync-progress"
	EventRateLimitUpdate EventKind = "rate-limit-update"
	EventSyncStatus      EventKind = "sync-status"
)

type Event struct {
	Kind    EventKind `json:"type"`
	Payload any       `json:"payload"`
}

// Notifier fans events out to all current subscribers. Delivery is
// best-effort: a subscriber that cannot keep up loses events rather
// than blocking the publisher.
type Notifier struct {
	subscribers map[chan Event]struct{}
	mu          sync.Mutex
}

func New() *Notifier {
	return &Notifier{
		subscribers: make(map[chan Event]struct{}),
	}
}

func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 64)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	if _, ok := n.subscribers[ch]; ok {
		delete(n.subscribers, ch)
		close(ch)
	}
	n.mu.Unlock()
}

func (n *Notifier) Publish(kind EventKind, payload any) {
	ev := Event{Kind: kind, Payload: payload}
	n.mu.Lock()
	for ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			// avoid blocking if channel is full
		}
	}
	n.mu.Unlock()
}
