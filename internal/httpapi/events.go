package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// eventBuffer bounds the per-client queue; a stalled reader misses
	// events instead of blocking the hub
	eventBuffer = 32

	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades GET /v1/events to a websocket and relays telemetry
// events as JSON frames until the client goes away
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.log.Debug().Err(err).Msg("websocket upgrade rejected")
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(eventBuffer)
	defer cancel()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber connected")

	// Reader loop exists only to observe the close handshake
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
