package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nstogner/operative/pkg/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile := t.TempDir() + "/test.db"
	s, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(tmpFile)
	})
	return s
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestGetInsertsDefaultRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.ID != "sess-1" {
		t.Errorf("ID = %q, want %q", r.ID, "sess-1")
	}
	if r.PermissionMode != session.DefaultPermissionMode {
		t.Errorf("PermissionMode = %q, want %q", r.PermissionMode, session.DefaultPermissionMode)
	}
	if r.Model != session.DefaultModel {
		t.Errorf("Model = %q, want %q", r.Model, session.DefaultModel)
	}

	// Calling Get again must not duplicate or reset the row.
	r2, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if r2.CreatedAt != r.CreatedAt {
		t.Errorf("CreatedAt changed across Get calls: %v != %v", r2.CreatedAt, r.CreatedAt)
	}
}

func TestPeekDoesNotInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Peek(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if r != nil {
		t.Fatalf("Peek on absent id = %+v, want nil", r)
	}

	_, total, err := s.List(ctx, session.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 (Peek must not insert a row)", total)
	}

	if _, err := s.Get(ctx, "sess-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	r2, err := s.Peek(ctx, "sess-1")
	if err != nil {
		t.Fatalf("second Peek: %v", err)
	}
	if r2 == nil || r2.ID != "sess-1" {
		t.Errorf("Peek after Get = %+v, want a row for sess-1", r2)
	}
}

func TestUpsertIndexedFieldsThenUserFieldsPreservesBoth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	err := s.UpsertIndexedFields(ctx, []session.IndexedMetadata{{
		SessionID:       "sess-1",
		Summary:         "initial summary",
		ProjectPath:     "/home/user/proj",
		MessageCount:    4,
		Model:           "claude-opus",
		FirstTimestamp:  now,
		LastTimestamp:   now,
		LastScannedAtMs: now.UnixMilli(),
	}})
	if err != nil {
		t.Fatalf("UpsertIndexedFields: %v", err)
	}

	r, err := s.UpsertUserFields(ctx, "sess-1", session.UserFieldsPatch{
		CustomName: strPtr("my session"),
		Pinned:     boolPtr(true),
	})
	if err != nil {
		t.Fatalf("UpsertUserFields: %v", err)
	}
	if r.CustomName != "my session" || !r.Pinned {
		t.Errorf("user fields not applied: %+v", r)
	}
	if r.Summary != "initial summary" || r.MessageCount != 4 {
		t.Errorf("indexed fields lost after UpsertUserFields: %+v", r)
	}

	// Re-indexing must not clobber the user fields just set.
	err = s.UpsertIndexedFields(ctx, []session.IndexedMetadata{{
		SessionID:       "sess-1",
		Summary:         "updated summary",
		ProjectPath:     "/home/user/proj",
		MessageCount:    7,
		Model:           "claude-opus",
		FirstTimestamp:  now,
		LastTimestamp:   now.Add(time.Minute),
		LastScannedAtMs: now.UnixMilli(),
	}})
	if err != nil {
		t.Fatalf("second UpsertIndexedFields: %v", err)
	}

	r2, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r2.Summary != "updated summary" || r2.MessageCount != 7 {
		t.Errorf("indexed fields not updated: %+v", r2)
	}
	if r2.CustomName != "my session" || !r2.Pinned {
		t.Errorf("user fields clobbered by re-index: %+v", r2)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Get(ctx, "sess-1")
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	records, total, err := s.List(ctx, session.ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Errorf("List after delete = %d/%d, want 0/0", len(records), total)
	}
}

func TestListFilterAndPaginate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, proj := range []string{"/a", "/a", "/b"} {
		id := "sess-" + string(rune('1'+i))
		s.Get(ctx, id)
		s.UpsertIndexedFields(ctx, []session.IndexedMetadata{{
			SessionID:   id,
			ProjectPath: proj,
		}})
	}

	proj := "/a"
	records, total, err := s.List(ctx, session.ListQuery{ProjectPath: &proj})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Errorf("filtered List = %d/%d, want 2/2", len(records), total)
	}

	page, total, err := s.List(ctx, session.ListQuery{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paginated List: %v", err)
	}
	if total != 3 {
		t.Errorf("total with pagination = %d, want 3", total)
	}
	if len(page) != 1 {
		t.Errorf("page len = %d, want 1", len(page))
	}
}

func TestArchiveAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Get(ctx, "sess-1")
	s.Get(ctx, "sess-2")
	s.UpsertUserFields(ctx, "sess-2", session.UserFieldsPatch{Archived: boolPtr(true)})

	n, err := s.ArchiveAll(ctx)
	if err != nil {
		t.Fatalf("ArchiveAll: %v", err)
	}
	if n != 1 {
		t.Errorf("ArchiveAll affected = %d, want 1", n)
	}

	r1, _ := s.Get(ctx, "sess-1")
	if !r1.Archived {
		t.Error("sess-1 not archived after ArchiveAll")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Get(ctx, "sess-1")
	s.Get(ctx, "sess-2")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("Stats.Count = %d, want 2", stats.Count)
	}
	if stats.LastUpdated.IsZero() {
		t.Error("Stats.LastUpdated is zero")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	tmpFile := t.TempDir() + "/test.db"
	s1, err := New(tmpFile)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s1.Get(context.Background(), "sess-1")
	s1.Close()

	s2, err := New(tmpFile)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	r, err := s2.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if r.ID != "sess-1" {
		t.Errorf("row lost across reopen/migration")
	}
}
