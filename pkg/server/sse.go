package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/nstogner/operative/pkg/session"
)

// sseSink implements broadcaster.Sink over a chunked HTTP response. Writes
// are serialized because http.ResponseWriter is not safe for concurrent
// use across the hub's broadcast and heartbeat goroutines.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

func (s *sseSink) Write(event session.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseSink) Close() error { return nil }

func (s *sseSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// handleStream serves the broadcast-namespace event stream: GET
// /api/stream?streamingId=<id> attaches to a concrete id, defaulting to
// "global" which fans out every published event. Passing
// streamingId=session-<id> attaches to a single session's content-update
// channel over SSE; /api/sessions/{id}/live offers the same channel over
// a WebSocket instead.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	streamingID := r.URL.Query().Get("streamingId")
	if streamingID == "" {
		streamingID = "global"
	}
	s.serveSSE(w, r, streamingID)
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, streamingID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	sink := newSSESink(w)
	s.hub.AddClient(streamingID, sink)
	defer s.hub.RemoveClient(streamingID, sink)

	<-r.Context().Done()
}
