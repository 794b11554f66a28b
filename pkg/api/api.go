// Package api is the thin translation layer between external read/write
// requests and the store and conversation reader. It is transport-free:
// callers (e.g. pkg/server) adapt these methods to HTTP.
package api

import (
	"context"

	"github.com/nstogner/operative/pkg/apierr"
	"github.com/nstogner/operative/pkg/conversation"
	"github.com/nstogner/operative/pkg/session"
	"github.com/nstogner/operative/pkg/store"
)

// API implements the read/write operations backing the HTTP surface.
type API struct {
	Store  store.Store
	Reader *conversation.Reader
}

// New returns an API backed by st and reader.
func New(st store.Store, reader *conversation.Reader) *API {
	return &API{Store: st, Reader: reader}
}

// ConversationList is the response shape of ListConversations.
type ConversationList struct {
	Conversations []session.Record `json:"conversations"`
	Total         int              `json:"total"`
}

// ListConversations issues a single store list call. It never opens a
// JSONL file directly; per-session detail requires GetConversationDetails.
func (a *API) ListConversations(ctx context.Context, query session.ListQuery) (*ConversationList, error) {
	records, total, err := a.Store.List(ctx, query)
	if err != nil {
		return nil, apierr.New(apierr.CodeHistoryReadFailed, "failed to list sessions", err)
	}
	return &ConversationList{Conversations: records, Total: total}, nil
}

// GetConversationDetails reconstructs sessionId's message tree.
func (a *API) GetConversationDetails(ctx context.Context, sessionID string) ([]session.Message, error) {
	return a.Reader.FetchConversation(ctx, sessionID)
}

// ConversationMetadata is the response shape of GetConversationMetadata.
type ConversationMetadata struct {
	Summary         string `json:"summary"`
	ProjectPath     string `json:"project_path"`
	Model           string `json:"model"`
	TotalDurationMs int64  `json:"total_duration_ms"`
}

// GetConversationMetadata is a store-only read; it returns nil if the
// session has never been indexed (zero message count and no summary).
func (a *API) GetConversationMetadata(ctx context.Context, sessionID string) (*ConversationMetadata, error) {
	rec, err := a.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, apierr.New(apierr.CodeHistoryReadFailed, "failed to read session record", err)
	}
	if rec.MessageCount == 0 && rec.Summary == "" {
		return nil, nil
	}
	return &ConversationMetadata{
		Summary:         rec.Summary,
		ProjectPath:     rec.ProjectPath,
		Model:           rec.Model,
		TotalDurationMs: rec.TotalDurationMs,
	}, nil
}

// UpdateSessionInfo merges patch into sessionId's user-preference fields.
func (a *API) UpdateSessionInfo(ctx context.Context, sessionID string, patch session.UserFieldsPatch) (*session.Record, error) {
	rec, err := a.Store.UpsertUserFields(ctx, sessionID, patch)
	if err != nil {
		return nil, apierr.New(apierr.CodeSessionUpdateFailed, "failed to update session", err)
	}
	return rec, nil
}

// DeleteSession removes sessionId's record.
func (a *API) DeleteSession(ctx context.Context, sessionID string) error {
	if err := a.Store.Delete(ctx, sessionID); err != nil {
		return apierr.New(apierr.CodeSessionUpdateFailed, "failed to delete session", err)
	}
	return nil
}

// ArchiveAll archives every currently-unarchived session.
func (a *API) ArchiveAll(ctx context.Context) (int, error) {
	n, err := a.Store.ArchiveAll(ctx)
	if err != nil {
		return 0, apierr.New(apierr.CodeSessionUpdateFailed, "failed to archive sessions", err)
	}
	return n, nil
}

// Stats returns a diagnostic summary of the store.
func (a *API) Stats(ctx context.Context) (session.Stats, error) {
	stats, err := a.Store.Stats(ctx)
	if err != nil {
		return session.Stats{}, apierr.New(apierr.CodeHistoryReadFailed, "failed to read stats", err)
	}
	return stats, nil
}
