// Package conversation reconstructs a single session's message tree from
// its flat JSONL entry log.
package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nstogner/operative/pkg/apierr"
	"github.com/nstogner/operative/pkg/session"
	"github.com/nstogner/operative/pkg/store"
)

const maxLineSize = 10 * 1024 * 1024

// MessageFilter removes messages that should not be shown to a client
// (e.g. pure tool-result user messages). It is an external collaborator:
// the reader applies it but does not define its policy.
type MessageFilter interface {
	Filter(messages []session.Message) []session.Message
}

// NoopFilter passes every message through unchanged.
type NoopFilter struct{}

func (NoopFilter) Filter(messages []session.Message) []session.Message { return messages }

// Reader locates and parses a session's JSONL file and reconstructs its
// message tree. It never caches parsed messages across calls.
type Reader struct {
	store       store.Store
	projectsDir string
	filter      MessageFilter
}

// New returns a Reader backed by st, resolving fallback paths under
// projectsDir (typically "<home>/.claude/projects"), applying filter to
// every reconstructed chain.
func New(st store.Store, projectsDir string, filter MessageFilter) *Reader {
	if filter == nil {
		filter = NoopFilter{}
	}
	return &Reader{store: st, projectsDir: projectsDir, filter: filter}
}

// FetchConversation resolves sessionId's file, parses it, and returns the
// reconstructed, filtered message chain.
func (r *Reader) FetchConversation(ctx context.Context, sessionID string) ([]session.Message, error) {
	path, err := r.resolvePath(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := parseFile(path)
	if err != nil {
		return nil, apierr.New(apierr.CodeConversationReadFailed, "failed to parse conversation file", err)
	}

	chain := reconstructChain(raw)
	return r.filter.Filter(chain), nil
}

func (r *Reader) resolvePath(ctx context.Context, sessionID string) (string, error) {
	rec, err := r.store.Peek(ctx, sessionID)
	if err != nil {
		return "", apierr.New(apierr.CodeHistoryReadFailed, "failed to read session record", err)
	}

	if rec != nil && rec.FilePath != "" {
		if _, err := os.Stat(rec.FilePath); err == nil {
			return rec.FilePath, nil
		}
	}

	found, err := r.scanForFile(sessionID)
	if err != nil {
		return "", apierr.New(apierr.CodeHistoryReadFailed, "failed to scan projects directory", err)
	}
	if found != "" {
		return found, nil
	}

	// A record existed and named a file that the fallback scan also
	// couldn't locate: the file vanished out from under us. Distinguish
	// that from never having had a record at all.
	if rec != nil && rec.FilePath != "" {
		return "", apierr.New(apierr.CodeFileNotFound, fmt.Sprintf("file for session %s no longer exists", sessionID), nil)
	}
	return "", apierr.New(apierr.CodeConversationNotFound, fmt.Sprintf("no file found for session %s", sessionID), nil)
}

func (r *Reader) scanForFile(sessionID string) (string, error) {
	target := sessionID + ".jsonl"
	var found string
	err := filepath.WalkDir(r.projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate unreadable entries, keep walking
		}
		if !d.IsDir() && filepath.Base(path) == target {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return found, nil
}

func parseFile(path string) ([]session.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []session.Message
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var raw struct {
			UUID             string          `json:"uuid"`
			ParentUUID       string          `json:"parentUuid"`
			SessionID        string          `json:"sessionId"`
			Type             string          `json:"type"`
			Timestamp        string          `json:"timestamp"`
			IsSidechain      bool            `json:"isSidechain"`
			WorkingDirectory string          `json:"cwd"`
			DurationMs       int64           `json:"durationMs"`
			Message          json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}

		if raw.Type != string(session.MessageTypeUser) && raw.Type != string(session.MessageTypeAssistant) {
			continue
		}

		var payload session.MessagePayload
		if len(raw.Message) > 0 {
			_ = json.Unmarshal(raw.Message, &payload)
		}

		ts, _ := time.Parse(time.RFC3339, raw.Timestamp)
		out = append(out, session.Message{
			UUID:             raw.UUID,
			ParentUUID:       raw.ParentUUID,
			SessionID:        raw.SessionID,
			Type:             session.MessageType(raw.Type),
			Timestamp:        ts,
			IsSidechain:      raw.IsSidechain,
			WorkingDirectory: raw.WorkingDirectory,
			DurationMs:       raw.DurationMs,
			Message:          payload,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// reconstructChain builds the parent/child tree over messages and returns
// its pre-order traversal. Every message with no parentUuid, or whose
// parent is not in the set, is a root; roots are visited in ascending
// timestamp order and each node's children likewise. Messages reachable
// from no root (members of a parent cycle) are appended at the end sorted
// by timestamp.
func reconstructChain(messages []session.Message) []session.Message {
	byUUID := make(map[string]session.Message, len(messages))
	childrenOf := make(map[string][]string)
	present := make(map[string]bool, len(messages))

	for _, m := range messages {
		byUUID[m.UUID] = m
		present[m.UUID] = true
	}
	for _, m := range messages {
		if m.ParentUUID != "" && present[m.ParentUUID] {
			childrenOf[m.ParentUUID] = append(childrenOf[m.ParentUUID], m.UUID)
		}
	}
	for parent := range childrenOf {
		kids := childrenOf[parent]
		sort.SliceStable(kids, func(i, j int) bool {
			return byUUID[kids[i]].Timestamp.Before(byUUID[kids[j]].Timestamp)
		})
		childrenOf[parent] = kids
	}

	var roots []string
	for _, m := range messages {
		if m.ParentUUID == "" || !present[m.ParentUUID] {
			roots = append(roots, m.UUID)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return byUUID[roots[i]].Timestamp.Before(byUUID[roots[j]].Timestamp)
	})

	visited := make(map[string]bool, len(messages))
	var out []session.Message

	var visit func(uuid string)
	visit = func(uuid string) {
		if visited[uuid] {
			return
		}
		visited[uuid] = true
		out = append(out, byUUID[uuid])
		for _, child := range childrenOf[uuid] {
			visit(child)
		}
	}

	for _, root := range roots {
		visit(root)
	}

	var orphans []session.Message
	for _, m := range messages {
		if !visited[m.UUID] {
			orphans = append(orphans, m)
		}
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].Timestamp.Before(orphans[j].Timestamp)
	})
	for _, o := range orphans {
		if !visited[o.UUID] {
			visited[o.UUID] = true
			out = append(out, o)
		}
	}

	return out
}
