package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gotadek/app"
	"github.com/mbocsi/gotadek/broker"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// HandleEvents streams every app event as a JSON WebSocket message until
// the peer goes away or the server shuts down.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan app.Event, eventBuffer)
	token := s.app.Events.SubscribeChan(broker.All, events)
	defer s.app.Events.Unsubscribe(token)
	slog.Info("Event stream opened", "remote_addr", r.RemoteAddr)

	// The peer never sends anything; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Warn("Event stream write failed", "remote_addr", r.RemoteAddr, "error", err)
				return
			}
		case <-closed:
			slog.Info("Event stream closed", "remote_addr", r.RemoteAddr)
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
