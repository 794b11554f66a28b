// Package indexer implements the history indexer: an initial full scan of
// the on-disk session archive followed by an incremental, debounced
// re-index driven by filesystem change notifications.
package indexer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nstogner/operative/pkg/broadcaster"
	"github.com/nstogner/operative/pkg/conversation"
	"github.com/nstogner/operative/pkg/scanner"
	"github.com/nstogner/operative/pkg/session"
	"github.com/nstogner/operative/pkg/store"
)

const (
	mtimeSlack     = 1 * time.Second
	debounceDelay  = 200 * time.Millisecond
	batchFlushSize = 50
)

// Indexer orchestrates the initial full scan and the incremental per-file
// re-index of the session archive rooted at ProjectsDir.
type Indexer struct {
	Store       store.Store
	Broadcaster *broadcaster.Hub
	ProjectsDir string
	// Reader, if set, is used to publish the fresh message chain on the
	// affected session's content-update channel after every successful
	// incremental re-index.
	Reader *conversation.Reader

	mu              sync.Mutex
	isRunning       bool
	shouldStop      bool
	watcher         *fsnotify.Watcher
	pendingDebounce map[string]*time.Timer
	done            chan struct{}
	wg              sync.WaitGroup
}

// New returns an Indexer rooted at projectsDir.
func New(st store.Store, hub *broadcaster.Hub, projectsDir string) *Indexer {
	return &Indexer{
		Store:           st,
		Broadcaster:     hub,
		ProjectsDir:     projectsDir,
		pendingDebounce: make(map[string]*time.Timer),
	}
}

// Start is idempotent: a second call while already running logs a warning
// and returns. The initial scan runs in the background; the watcher is
// installed only after it completes, and a second scan pass then runs so
// that files changed while the first pass ran are re-observed via the
// mtime comparison.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	if ix.isRunning {
		ix.mu.Unlock()
		slog.Warn("indexer already running, ignoring Start")
		return nil
	}
	ix.isRunning = true
	ix.shouldStop = false
	ix.done = make(chan struct{})
	ix.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ix.mu.Lock()
	ix.watcher = watcher
	ix.mu.Unlock()

	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		if err := ix.fullScan(ctx); err != nil {
			slog.Error("initial full scan failed", "error", err)
		}
		if ix.shouldStopNow() {
			return
		}
		if err := ix.installWatcher(); err != nil {
			slog.Error("failed to install filesystem watcher", "error", err)
			return
		}
		if err := ix.fullScan(ctx); err != nil {
			slog.Error("post-watch rescan failed", "error", err)
		}
		ix.watchLoop()
	}()

	return nil
}

// Stop cancels pending debounce timers, closes the watcher, and waits for
// background goroutines to exit.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if !ix.isRunning {
		ix.mu.Unlock()
		return
	}
	ix.shouldStop = true
	for path, timer := range ix.pendingDebounce {
		timer.Stop()
		delete(ix.pendingDebounce, path)
	}
	w := ix.watcher
	done := ix.done
	ix.mu.Unlock()

	if w != nil {
		w.Close()
	}
	if done != nil {
		close(done)
	}
	ix.wg.Wait()

	ix.mu.Lock()
	ix.isRunning = false
	ix.mu.Unlock()
}

func (ix *Indexer) shouldStopNow() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.shouldStop
}

// fullScan walks ProjectsDir, skips agent-* session files, and re-indexes
// any candidate whose mtime exceeds its stored lastScannedAtMs by more
// than the mtime slack.
func (ix *Indexer) fullScan(ctx context.Context) error {
	var batch []session.IndexedMetadata

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ix.Store.UpsertIndexedFields(ctx, batch); err != nil {
			slog.Error("batch upsert failed", "error", err, "size", len(batch))
		}
		batch = batch[:0]
	}

	err := filepath.WalkDir(ix.ProjectsDir, func(path string, d os.DirEntry, err error) error {
		if ix.shouldStopNow() {
			return filepath.SkipAll
		}
		if err != nil {
			slog.Warn("error accessing path during scan", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isCandidateFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat candidate file", "path", path, "error", err)
			return nil
		}
		mtimeMs := info.ModTime().UnixMilli()

		rec, err := ix.Store.Peek(ctx, sessionIDFromPath(path))
		if err != nil {
			slog.Warn("failed to read existing record during scan", "path", path, "error", err)
			return nil
		}
		if rec != nil && rec.LastScannedAtMs >= mtimeMs-mtimeSlack.Milliseconds() {
			return nil
		}

		meta, err := scanner.Scan(path, mtimeMs)
		if err != nil {
			slog.Warn("failed to scan session file", "path", path, "error", err)
			return nil
		}
		if meta == nil {
			return nil
		}
		meta.SessionID = sessionIDFromPath(path)
		batch = append(batch, *meta)

		if len(batch) >= batchFlushSize {
			flush()
		}
		return nil
	})
	flush()

	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return err
	}
	return nil
}

func (ix *Indexer) installWatcher() error {
	ix.mu.Lock()
	w := ix.watcher
	ix.mu.Unlock()

	if err := w.Add(ix.ProjectsDir); err != nil {
		return err
	}
	return filepath.WalkDir(ix.ProjectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (ix *Indexer) watchLoop() {
	ix.mu.Lock()
	w := ix.watcher
	done := ix.done
	ix.mu.Unlock()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isCandidateFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				ix.debounce(event.Name)
			case event.Op&fsnotify.Remove != 0:
				ix.cancelDebounce(event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("filesystem watcher error", "error", err)

		case <-done:
			return
		}
	}
}

func (ix *Indexer) debounce(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if timer, ok := ix.pendingDebounce[path]; ok {
		timer.Stop()
	}
	ix.pendingDebounce[path] = time.AfterFunc(debounceDelay, func() {
		ix.mu.Lock()
		delete(ix.pendingDebounce, path)
		ix.mu.Unlock()
		ix.reindexOne(path)
	})
}

func (ix *Indexer) cancelDebounce(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if timer, ok := ix.pendingDebounce[path]; ok {
		timer.Stop()
		delete(ix.pendingDebounce, path)
	}
}

// reindexOne scans and upserts a single file, then publishes an
// index_update event on the broadcaster's global channel. A file that no
// longer exists when its timer fires is dropped without error.
func (ix *Indexer) reindexOne(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	sessionID := sessionIDFromPath(path)
	meta, err := scanner.Scan(path, info.ModTime().UnixMilli())
	if err != nil {
		slog.Warn("failed to scan session file", "path", path, "error", err)
		return
	}
	if meta == nil {
		return
	}
	meta.SessionID = sessionID

	if err := ix.Store.UpsertIndexedFields(context.Background(), []session.IndexedMetadata{*meta}); err != nil {
		slog.Error("single-file upsert failed, will retry on next event", "path", path, "error", err)
		return
	}

	if ix.Broadcaster != nil {
		ix.Broadcaster.PublishGlobal(session.IndexUpdateEvent(sessionID, time.Now()))
		ix.publishContentUpdate(sessionID)
	}
}

// publishContentUpdate re-reads sessionId's message chain and pushes it on
// its per-session content-update channel. Best-effort: a failure here
// never affects the index_update that already landed.
func (ix *Indexer) publishContentUpdate(sessionID string) {
	if ix.Reader == nil {
		return
	}
	messages, err := ix.Reader.FetchConversation(context.Background(), sessionID)
	if err != nil {
		slog.Warn("failed to refresh message chain for content-update push", "sessionId", sessionID, "error", err)
		return
	}
	ix.Broadcaster.Broadcast(session.SessionContentChannel(sessionID), session.Event{
		Type:        session.EventSessionContentUpdate,
		StreamingID: session.SessionContentChannel(sessionID),
		SessionID:   sessionID,
		Timestamp:   time.Now(),
		Data:        session.SessionContentUpdate{Messages: messages},
	})
}

func isCandidateFile(path string) bool {
	if !strings.HasSuffix(path, ".jsonl") {
		return false
	}
	return !strings.HasPrefix(filepath.Base(path), "agent-")
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, ".jsonl")
}
