// Package store defines the metadata store interface backing the session
// index.
package store

import (
	"context"

	"github.com/nstogner/operative/pkg/session"
)

// Store manages the persistence of session metadata. Implementations must
// tolerate a single writer plus many concurrent readers.
type Store interface {
	// Get returns the record for id, inserting a default row first if one
	// does not already exist. Callers may treat Get as a total function.
	Get(ctx context.Context, id string) (*session.Record, error)

	// Peek returns id's record without inserting one if absent, returning
	// (nil, nil) in that case. Use this wherever a missing record must stay
	// missing, such as the indexer's mtime-skip check.
	Peek(ctx context.Context, id string) (*session.Record, error)

	// UpsertUserFields merges patch into the user-preference fields of id's
	// record (inserting a default row first if needed), refreshes UpdatedAt
	// and Version, and leaves indexed fields untouched.
	UpsertUserFields(ctx context.Context, id string, patch session.UserFieldsPatch) (*session.Record, error)

	// UpsertIndexedFields applies a transactional bulk upsert of indexed
	// fields. Existing rows have their indexed fields and UpdatedAt
	// overwritten; missing rows are inserted with default user fields.
	// User-preference fields on existing rows are never touched.
	UpsertIndexedFields(ctx context.Context, batch []session.IndexedMetadata) error

	// Delete removes id's record. This is the only way a row is removed;
	// the indexer never deletes rows even if the underlying file vanishes.
	Delete(ctx context.Context, id string) error

	// List returns records matching query's filter, ordered and paginated
	// as requested, plus the total count ignoring pagination.
	List(ctx context.Context, query session.ListQuery) ([]session.Record, int, error)

	// ArchiveAll sets archived=true on every currently-unarchived row in one
	// transaction and returns the number of rows affected.
	ArchiveAll(ctx context.Context) (int, error)

	// Stats returns a diagnostic summary of the store.
	Stats(ctx context.Context) (session.Stats, error)

	// Close releases the underlying database connection.
	Close() error
}
