package credvault

import (
	"context"

	"github.com/skedia/credvault/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the credvault package without importing
// store directly.
type (
	Filter = store.Filter
	Origin = store.Origin
)

// Re-exported load origin constants.
const (
	OriginData       = store.OriginData
	OriginAbsent     = store.OriginAbsent
	OriginUnreadable = store.OriginUnreadable
)

// RecordReader provides read access to the credential set.
type RecordReader interface {
	GetAll(ctx context.Context) ([]Record, error)
	GetActive(ctx context.Context) ([]Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	GetByEmail(ctx context.Context, email string) (*Record, error)
	Find(ctx context.Context, filters ...Filter) ([]Record, error)
	Stats(ctx context.Context) (*Stats, error)
}

// RecordWriter provides single-record mutations.
type RecordWriter interface {
	Add(ctx context.Context, cred Credential) (*Record, error)
	UpdateByID(ctx context.Context, id string, upd Update) (*Record, error)
	UpdateByEmail(ctx context.Context, email string, upd Update) (*Record, error)
	Retire(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Reconciler merges credential batches into the set.
type Reconciler interface {
	AddBatch(ctx context.Context, creds []Credential) (*BatchResult, error)
	RetireBatch(ctx context.Context, ids []string) (int, error)
}

// Sweeper retires records whose credentials an external probe rejects.
type Sweeper interface {
	Sweep(ctx context.Context, probe ProbeFunc, filters ...Filter) (*SweepResult, error)
}

// Store is the full credential store contract. *Vault implements it; the
// smaller interfaces above exist so callers can depend on just the slice
// they use.
type Store interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Events() *ServiceEvents

	RecordReader
	RecordWriter
	Reconciler
	Sweeper
}

var _ Store = (*Vault)(nil)
