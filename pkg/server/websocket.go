package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nstogner/operative/pkg/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink adapts a *websocket.Conn to broadcaster.Sink. WriteJSON is not
// safe for concurrent use, so writes from the hub's broadcast and
// heartbeat goroutines are serialized.
type wsSink struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *wsSink) Write(event session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(event)
}

func (s *wsSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSink) Close() error {
	return s.ws.Close()
}

// handleSessionLive serves the per-session companion channel over
// WebSocket, pushing the same session_content_update events the SSE
// channel carries. It is a transport alternative, not new functionality.
func (s *Server) handleSessionLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sink := &wsSink{ws: ws}
	streamingID := session.SessionContentChannel(id)
	s.hub.AddClient(streamingID, sink)
	defer s.hub.RemoveClient(streamingID, sink)

	// Drain and discard inbound frames; this channel is push-only. The
	// read loop's sole purpose is detecting client disconnection.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
