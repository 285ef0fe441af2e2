package server

import (
	"net/http"
	"time"

	"context"

	"github.com/gorilla/websocket"

	"github.com/petercort/RunWatch-sub000/notifier"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events streams every notifier event to the client as JSON.
// sync-progress events are debounced so a fast crawl does not flood
// slow clients; everything else is forwarded as-is.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Events")
	l.Info("received new connection")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	ch := s.n.Subscribe()
	defer s.n.Unsubscribe(ch)

	progress := make(chan notifier.Event, 64)
	debounced := notifier.Debounce(progress, 250*time.Millisecond)
	defer close(progress)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.Info("stopping stream: client closed connection")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == notifier.EventSyncProgress {
				select {
				case progress <- ev:
				default:
				}
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				l.Error("failed to write event", "err", err)
				return
			}
		case ev := <-debounced:
			if err := conn.WriteJSON(ev); err != nil {
				l.Error("failed to write event", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			// keep-alive
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
				return
			}
		}
	}
}
