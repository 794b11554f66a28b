// Package server wires the API layer to HTTP: routing, CORS, SSE
// streaming, and the per-session live WebSocket channel. Authentication,
// argument parsing, and the browser UI are out of scope and are left to
// whatever embeds this package.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nstogner/operative/pkg/api"
	"github.com/nstogner/operative/pkg/apierr"
	"github.com/nstogner/operative/pkg/broadcaster"
)

// Server serves the session index REST API, SSE event stream, and
// per-session live WebSocket channel.
type Server struct {
	api *api.API
	hub *broadcaster.Hub
	srv *http.Server
}

// New creates a Server backed by a and publishing over hub.
func New(a *api.API, hub *broadcaster.Hub) *Server {
	return &Server{api: a, hub: hub}
}

// Start installs routes and serves addr until the process exits or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /api/sessions/{id}/metadata", s.handleGetMetadata)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSessionInfo)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/archive-all", s.handleArchiveAll)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/sessions/{id}/live", s.handleSessionLive)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(mux),
	}

	slog.Info("starting session index server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorResponse normalizes err to the canonical error envelope, using the
// wrapped *apierr.Error's code/status if present and HISTORY_READ_FAILED
// otherwise.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	slog.Error("api error", "error", err)

	if e, ok := apierr.As(err); ok {
		s.jsonResponse(w, e.Status, e)
		return
	}

	fallback := apierr.New(apierr.CodeHistoryReadFailed, err.Error(), err)
	s.jsonResponse(w, fallback.Status, fallback)
}
