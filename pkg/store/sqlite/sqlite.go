// Package sqlite implements store.Store on top of an embedded SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/operative/pkg/session"
	"github.com/nstogner/operative/pkg/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db     *sql.DB
	path   string
	memory bool
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at path and runs migrations.
// A path of ":memory:" produces a non-persistent, process-local store.
func New(path string) (*Store, error) {
	memory := path == ":memory:"

	var dsn string
	if memory {
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	} else {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// A shared-cache in-memory database is destroyed once every
		// connection closes; pin the pool to one connection so the schema
		// and data survive for the store's lifetime.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path, memory: memory}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// columnDef is one column in the additive migration list.
type columnDef struct {
	name string
	ddl  string // e.g. "TEXT NOT NULL DEFAULT ''"
}

var sessionColumns = []columnDef{
	{"id", "TEXT PRIMARY KEY"},
	{"custom_name", "TEXT NOT NULL DEFAULT ''"},
	{"pinned", "INTEGER NOT NULL DEFAULT 0"},
	{"archived", "INTEGER NOT NULL DEFAULT 0"},
	{"continuation_session_id", "TEXT NOT NULL DEFAULT ''"},
	{"initial_commit_head", "TEXT NOT NULL DEFAULT ''"},
	{"permission_mode", "TEXT NOT NULL DEFAULT 'default'"},
	{"summary", "TEXT NOT NULL DEFAULT ''"},
	{"project_path", "TEXT NOT NULL DEFAULT ''"},
	{"file_path", "TEXT NOT NULL DEFAULT ''"},
	{"message_count", "INTEGER NOT NULL DEFAULT 0"},
	{"total_duration_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"model", "TEXT NOT NULL DEFAULT 'Unknown'"},
	{"last_scanned_at_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"version", "INTEGER NOT NULL DEFAULT 1"},
	{"created_at", "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"},
	{"updated_at", "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (id TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if err := s.ensureColumns("sessions", sessionColumns); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES
		('schema_version', ?), ('created_at', ?), ('last_updated', ?)`,
		fmt.Sprintf("%d", session.CurrentSchemaVersion), now, now)
	return err
}

// ensureColumns inspects table's existing columns and additively adds any
// that are missing. Existing columns are never altered or dropped.
func (s *Store) ensureColumns(table string, cols []columnDef) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ddl)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

func (s *Store) touchLastUpdated(ctx context.Context, exec execer) error {
	_, err := exec.ExecContext(ctx, `UPDATE metadata SET value=? WHERE key='last_updated'`,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sessionCols = `id, custom_name, pinned, archived, continuation_session_id,
	initial_commit_head, permission_mode, summary, project_path, file_path,
	message_count, total_duration_ms, model, last_scanned_at_ms, version,
	created_at, updated_at`

func scanRecord(rs interface{ Scan(...any) error }) (*session.Record, error) {
	var r session.Record
	var pinned, archived int
	var createdAt, updatedAt string
	err := rs.Scan(
		&r.ID, &r.CustomName, &pinned, &archived, &r.ContinuationSessionID,
		&r.InitialCommitHead, &r.PermissionMode, &r.Summary, &r.ProjectPath, &r.FilePath,
		&r.MessageCount, &r.TotalDurationMs, &r.Model, &r.LastScannedAtMs, &r.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Pinned = pinned != 0
	r.Archived = archived != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// Get returns id's record, inserting a default row first if absent.
func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id)
	r, err := scanRecord(row)
	if err == nil {
		return r, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO sessions
		(id, permission_mode, model, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, session.DefaultPermissionMode, session.DefaultModel, session.CurrentSchemaVersion, now, now)
	if err != nil {
		return nil, err
	}
	if err := s.touchLastUpdated(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id)
	return scanRecord(row)
}

// Peek returns id's record without inserting a default row if absent.
func (s *Store) Peek(ctx context.Context, id string) (*session.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id)
	r, err := scanRecord(row)
	if err == nil {
		return r, nil
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return nil, err
}

// UpsertUserFields merges patch into id's user-preference fields.
func (s *Store) UpsertUserFields(ctx context.Context, id string, patch session.UserFieldsPatch) (*session.Record, error) {
	// Ensure the row exists first (Get is a total function).
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	if patch.CustomName != nil {
		sets = append(sets, "custom_name=?")
		args = append(args, *patch.CustomName)
	}
	if patch.Pinned != nil {
		sets = append(sets, "pinned=?")
		args = append(args, boolToInt(*patch.Pinned))
	}
	if patch.Archived != nil {
		sets = append(sets, "archived=?")
		args = append(args, boolToInt(*patch.Archived))
	}
	if patch.ContinuationSessionID != nil {
		sets = append(sets, "continuation_session_id=?")
		args = append(args, *patch.ContinuationSessionID)
	}
	if patch.InitialCommitHead != nil {
		sets = append(sets, "initial_commit_head=?")
		args = append(args, *patch.InitialCommitHead)
	}
	if patch.PermissionMode != nil {
		sets = append(sets, "permission_mode=?")
		args = append(args, *patch.PermissionMode)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	sets = append(sets, "updated_at=?", "version=?")
	args = append(args, now, session.CurrentSchemaVersion)
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id=?", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id)
	return scanRecord(row)
}

// UpsertIndexedFields applies a transactional bulk upsert, never touching
// user-preference fields on existing rows.
func (s *Store) UpsertIndexedFields(ctx context.Context, batch []session.IndexedMetadata) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (
			id, summary, project_path, file_path, message_count,
			total_duration_ms, model, last_scanned_at_ms, version,
			created_at, updated_at, permission_mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary=excluded.summary,
			project_path=excluded.project_path,
			file_path=excluded.file_path,
			message_count=excluded.message_count,
			total_duration_ms=excluded.total_duration_ms,
			model=excluded.model,
			last_scanned_at_ms=excluded.last_scanned_at_ms,
			version=excluded.version,
			updated_at=excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range batch {
		createdAt := m.FirstTimestamp
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		updatedAt := m.LastTimestamp
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		_, err := stmt.ExecContext(ctx,
			m.SessionID, m.Summary, m.ProjectPath, m.FilePath, m.MessageCount,
			m.TotalDurationMs, m.Model, m.LastScannedAtMs, session.CurrentSchemaVersion,
			createdAt.Format(time.RFC3339), updatedAt.Format(time.RFC3339),
			session.DefaultPermissionMode,
		)
		if err != nil {
			return fmt.Errorf("upsert session %s: %w", m.SessionID, err)
		}
	}

	if err := s.touchLastUpdated(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes id's record.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

// List returns records matching query, plus the total count ignoring
// pagination.
func (s *Store) List(ctx context.Context, q session.ListQuery) ([]session.Record, int, error) {
	var preds []string
	var args []any

	if q.ProjectPath != nil {
		preds = append(preds, "project_path=?")
		args = append(args, *q.ProjectPath)
	}
	if q.Archived != nil {
		preds = append(preds, "archived=?")
		args = append(args, boolToInt(*q.Archived))
	}
	if q.Pinned != nil {
		preds = append(preds, "pinned=?")
		args = append(args, boolToInt(*q.Pinned))
	}
	if q.HasContinuation != nil {
		if *q.HasContinuation {
			preds = append(preds, "continuation_session_id != ''")
		} else {
			preds = append(preds, "continuation_session_id = ''")
		}
	}

	where := ""
	if len(preds) > 0 {
		where = " WHERE " + strings.Join(preds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM sessions" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol := "created_at"
	if q.OrderBy == session.OrderByUpdatedAt {
		orderCol = "updated_at"
	}
	orderDir := "DESC"
	if q.OrderDir == session.OrderAsc {
		orderDir = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM sessions%s ORDER BY %s %s", sessionCols, where, orderCol, orderDir)
	pageArgs := append([]any{}, args...)
	if q.Limit > 0 {
		query += " LIMIT ?"
		pageArgs = append(pageArgs, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			pageArgs = append(pageArgs, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// ArchiveAll sets archived=true on every currently-unarchived row.
func (s *Store) ArchiveAll(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET archived=1, updated_at=? WHERE archived=0`, now)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()

	if err := s.touchLastUpdated(ctx, tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats returns a diagnostic summary of the store.
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	var stats session.Stats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.Count); err != nil {
		return stats, err
	}

	var lastUpdated string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key='last_updated'`).Scan(&lastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return stats, err
	}
	stats.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)

	if !s.memory {
		if info, err := os.Stat(s.path); err == nil {
			stats.ByteSize = info.Size()
		}
	}

	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
