// Command cui runs the session indexing and live-update pipeline: it
// scans an on-disk archive of chat session JSONL files, keeps a SQLite
// index of their metadata current, and serves that index plus real-time
// updates over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nstogner/operative/pkg/api"
	"github.com/nstogner/operative/pkg/broadcaster"
	"github.com/nstogner/operative/pkg/conversation"
	"github.com/nstogner/operative/pkg/indexer"
	"github.com/nstogner/operative/pkg/server"
	"github.com/nstogner/operative/pkg/store/sqlite"
)

func main() {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("failed to resolve home directory", "error", err)
		os.Exit(1)
	}

	claudeHome := os.Getenv("CUI_HOME")
	if claudeHome == "" {
		claudeHome = filepath.Join(home, ".claude")
	}
	projectsDir := filepath.Join(claudeHome, "projects")

	dbPath := os.Getenv("CUI_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(home, ".cui", "session-info.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			slog.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
	}

	addr := os.Getenv("CUI_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	st, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	hub := broadcaster.New()
	reader := conversation.New(st, projectsDir, conversation.NoopFilter{})

	ix := indexer.New(st, hub, projectsDir)
	ix.Reader = reader

	ctx := context.Background()
	if err := ix.Start(ctx); err != nil {
		slog.Error("failed to start indexer", "error", err)
		os.Exit(1)
	}
	defer ix.Stop()

	a := api.New(st, reader)
	srv := server.New(a, hub)

	slog.Info("cui starting", "projectsDir", projectsDir, "dbPath", dbPath, "addr", addr)
	if err := srv.Start(addr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
