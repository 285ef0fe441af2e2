package notifier

import (
	"time"
)

// Debounce mirrors in on the returned channel, coalescing bursts of
// events of the same kind within window down to the latest one. It
// is a subscriber-side smoothing layer; the underlying write path is
// never debounced. The returned channel closes when in closes.
func Debounce(in <-chan Event, window time.Duration) <-chan Event {
	out := make(chan Event, 64)

	go func() {
		defer close(out)

		pending := make(map[EventKind]Event)
		var order []EventKind

		timer := time.NewTimer(window)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		flush := func() {
			for _, kind := range order {
				select {
				case out <- pending[kind]:
				default:
				}
				delete(pending, kind)
			}
			order = order[:0]
		}

		for {
			select {
			case ev, ok := <-in:
				if !ok {
					flush()
					return
				}
				if len(pending) == 0 {
					timer.Reset(window)
				}
				if _, seen := pending[ev.Kind]; !seen {
					order = append(order, ev.Kind)
				}
				pending[ev.Kind] = ev
			case <-timer.C:
				flush()
			}
		}
	}()

	return out
}
