package web

import (
	"net/http"
	"time"
)

// activityWriteTimeout bounds each WebSocket write; a stalled browser
// gets disconnected rather than backing up the feed.
const activityWriteTimeout = 10 * time.Second

// handleActivity streams bus events to the browser over a WebSocket.
// The feed drives the sidebar activity indicator while the assistant
// is working on a request.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(events)

	// Reader goroutine: we never expect client messages, but reading
	// is what surfaces close frames and connection drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(activityWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("activity feed write failed", "error", err)
				return
			}
		}
	}
}
