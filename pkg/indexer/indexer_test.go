package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nstogner/operative/pkg/broadcaster"
	"github.com/nstogner/operative/pkg/session"
	"github.com/nstogner/operative/pkg/store/sqlite"
)

func writeSessionFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFullScanIndexesFreshSession(t *testing.T) {
	projectsDir := t.TempDir()
	projDir := filepath.Join(projectsDir, "-home-user-proj")
	if err := os.MkdirAll(projDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	content := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","cwd":"/p","message":{"content":"hi"},"durationMs":100}
{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2024-01-01T00:00:01Z","message":{"model":"m-1","content":"ok"},"durationMs":200}
`
	writeSessionFile(t, projDir, "sess-1.jsonl", content)

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer st.Close()

	ix := New(st, broadcaster.New(), projectsDir)
	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("fullScan: %v", err)
	}

	rec, err := st.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", rec.MessageCount)
	}
	if rec.Model != "m-1" {
		t.Errorf("Model = %q, want %q", rec.Model, "m-1")
	}
	if rec.ProjectPath != "/p" {
		t.Errorf("ProjectPath = %q, want %q", rec.ProjectPath, "/p")
	}
}

func TestFullScanSkipsAgentPrefixedFiles(t *testing.T) {
	projectsDir := t.TempDir()
	writeSessionFile(t, projectsDir, "agent-sub1.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"content":"hi"}}`+"\n")

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer st.Close()

	ix := New(st, broadcaster.New(), projectsDir)
	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("fullScan: %v", err)
	}

	_, total, err := st.List(context.Background(), session.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 (agent- prefixed files must be skipped)", total)
	}
}

func TestFullScanSidechainOnlySessionWritesNothing(t *testing.T) {
	projectsDir := t.TempDir()
	writeSessionFile(t, projectsDir, "sess-sidechain.jsonl",
		`{"type":"user","uuid":"u1","isSidechain":true,"timestamp":"2024-01-01T00:00:00Z","message":{"content":"hi"}}`+"\n")

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer st.Close()

	ix := New(st, broadcaster.New(), projectsDir)
	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("fullScan: %v", err)
	}

	_, total, err := st.List(context.Background(), session.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 (sidechain-only session must not be persisted)", total)
	}
}

func TestFullScanEmptyFileWritesNothing(t *testing.T) {
	projectsDir := t.TempDir()
	writeSessionFile(t, projectsDir, "sess-empty.jsonl", "")

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer st.Close()

	ix := New(st, broadcaster.New(), projectsDir)
	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("fullScan: %v", err)
	}

	_, total, err := st.List(context.Background(), session.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 (empty file must not be persisted)", total)
	}
}

func TestFullScanRerunIsNoopWithoutChanges(t *testing.T) {
	projectsDir := t.TempDir()
	content := `{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","cwd":"/p","message":{"content":"hi"}}` + "\n"
	path := writeSessionFile(t, projectsDir, "sess-1.jsonl", content)

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer st.Close()

	ix := New(st, broadcaster.New(), projectsDir)
	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("first fullScan: %v", err)
	}
	first, err := st.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := ix.fullScan(context.Background()); err != nil {
		t.Fatalf("second fullScan: %v", err)
	}
	second, err := st.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Errorf("UpdatedAt changed on a no-op rescan: %v != %v", first.UpdatedAt, second.UpdatedAt)
	}
	_ = path
}
