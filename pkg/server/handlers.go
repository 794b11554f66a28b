package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nstogner/operative/pkg/session"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := session.ListQuery{
		OrderBy:  session.OrderByCreatedAt,
		OrderDir: session.OrderDesc,
	}
	if v := q.Get("projectPath"); v != "" {
		query.ProjectPath = &v
	}
	if v, ok := parseBoolParam(q, "archived"); ok {
		query.Archived = &v
	}
	if v, ok := parseBoolParam(q, "pinned"); ok {
		query.Pinned = &v
	}
	if v, ok := parseBoolParam(q, "hasContinuation"); ok {
		query.HasContinuation = &v
	}
	if v := q.Get("orderBy"); v == string(session.OrderByUpdatedAt) {
		query.OrderBy = session.OrderByUpdatedAt
	}
	if v := q.Get("orderDir"); v == string(session.OrderAsc) {
		query.OrderDir = session.OrderAsc
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		query.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		query.Offset = v
	}

	list, err := s.api.ListConversations(r.Context(), query)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

func parseBoolParam(q map[string][]string, key string) (bool, bool) {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return false, false
	}
	b, err := strconv.ParseBool(vs[0])
	if err != nil {
		return false, false
	}
	return b, true
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.api.GetConversationDetails(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, messages)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.api.GetConversationMetadata(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if meta == nil {
		http.NotFound(w, r)
		return
	}
	s.jsonResponse(w, http.StatusOK, meta)
}

func (s *Server) handleUpdateSessionInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch session.UserFieldsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.errorResponse(w, err)
		return
	}
	rec, err := s.api.UpdateSessionInfo(r.Context(), id, patch)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.api.DeleteSession(r.Context(), id); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.api.ArchiveAll(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"archived": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.Stats(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}
