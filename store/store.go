// Package store provides the storage contract for the credential vault.
// Implementations live in the store/file, store/s3, store/gcs, store/postgres,
// store/mongo, and store/memory subpackages.
//
// # Whole-set vs row-capable backends
//
// The minimal contract is whole-set: a backend only needs to read and write the
// entire record set as one unit (a JSON document on disk or in object storage).
// The engine performs its read-modify-write cycles under a process-local write
// lock, so whole-set backends never see interleaved writes from one process.
//
// Backends with row-level access (relational, document databases) additionally
// implement RowBackend. Row operations are a performance optimization that
// avoids rewriting the whole set for single-record mutations, not a contract
// requirement. The engine works correctly against either style.
//
// Backends are stateless with respect to the record set: they never cache it
// between calls. This keeps the engine's write lock sufficient for
// serialization.
package store

import (
	"context"
	"time"
)

// Origin classifies where an empty LoadAll result came from. The engine (and
// its tests) need to distinguish "nothing has ever been written" from "the
// stored object exists but could not be read", which both degrade to an empty
// record set.
type Origin int

const (
	// OriginData means the backend returned a previously persisted set
	// (possibly empty, if an empty set was explicitly written).
	OriginData Origin = iota

	// OriginAbsent means no object/file/rows have ever been written. An empty
	// set is the legitimate prior state.
	OriginAbsent

	// OriginUnreadable means a stored object exists but could not be decoded
	// (corrupt JSON, undecryptable blob). The backend degrades to an empty set
	// rather than hard-locking the service, and the engine logs the condition.
	OriginUnreadable
)

// String returns a short label for logging.
func (o Origin) String() string {
	switch o {
	case OriginData:
		return "data"
	case OriginAbsent:
		return "absent"
	case OriginUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// LoadResult is the outcome of reading the full record set.
type LoadResult struct {
	Records []Record
	Origin  Origin
}

// Backend is the storage contract every adapter implements.
//
// LoadAll must return an empty set (with the appropriate Origin) rather than an
// error when the documented missing-data fallbacks apply; any other transport
// failure is an error. SaveAll failures must always propagate; a swallowed
// write error silently loses data.
type Backend interface {
	// Connect establishes the backend's connection and prepares storage
	// (directories, schema, buckets are assumed to exist for object stores).
	Connect(ctx context.Context) error

	// Close releases the backend's resources. The caller owns injected
	// connections (database handles, clients) and closes those itself.
	Close(ctx context.Context) error

	// LoadAll reads the entire record set.
	LoadAll(ctx context.Context) (*LoadResult, error)

	// SaveAll replaces the entire record set.
	SaveAll(ctx context.Context, records []Record) error
}

// RowBackend is an optional interface for backends with row-level access.
// When implemented, the engine uses row operations instead of whole-set
// rewrites for single-record mutations.
type RowBackend interface {
	// InsertRecord inserts a new record. Returns ErrDuplicateEntry if an
	// active record with the same email already exists.
	InsertRecord(ctx context.Context, rec Record) error

	// UpdateRecord replaces the stored row for rec.ID.
	// Returns ErrNotFound if no such row exists.
	UpdateRecord(ctx context.Context, rec Record) error

	// SetActive flips the soft-delete flag and bumps the updated timestamp.
	// Returns ErrNotFound if no such row exists.
	SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error

	// DeleteRecord removes the row entirely.
	// Returns ErrNotFound if no such row exists.
	DeleteRecord(ctx context.Context, id string) error

	// SaveBatch persists a set of new or changed records in one round trip.
	SaveBatch(ctx context.Context, records []Record) error
}
