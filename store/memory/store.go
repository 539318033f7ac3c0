// Package memory provides an in-memory Backend implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/skedia/credvault/store"
)

// Compile-time check
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// Failure injection hooks (FailLoad, FailSave) let tests exercise the
// engine's behavior when the backing store is unavailable, and LoadOrigin
// lets them simulate absent or unreadable documents.
type Store struct {
	mu        sync.Mutex
	records   []store.Record
	connected int32

	// FailLoad and FailSave, when non-nil, are returned by the next
	// LoadAll / SaveAll call.
	FailLoad error
	FailSave error

	// LoadOrigin overrides the Origin reported by LoadAll when the store
	// holds no records. Defaults to OriginData.
	LoadOrigin store.Origin

	// SaveCount counts successful SaveAll calls.
	SaveCount int64
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{LoadOrigin: store.OriginData}
}

// Seed creates an in-memory store pre-loaded with records. The store still
// needs a Connect call, usually made by the engine it is handed to.
func Seed(records ...store.Record) *Store {
	s := New()
	s.records = store.CloneRecords(records)
	return s
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// LoadAll returns a copy of the stored record set.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailLoad != nil {
		return nil, s.FailLoad
	}
	if len(s.records) == 0 && s.LoadOrigin != store.OriginData {
		return &store.LoadResult{Origin: s.LoadOrigin}, nil
	}
	return &store.LoadResult{
		Records: store.CloneRecords(s.records),
		Origin:  store.OriginData,
	}, nil
}

// SaveAll replaces the stored record set with a copy of records.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSave != nil {
		return s.FailSave
	}
	s.records = store.CloneRecords(records)
	s.SaveCount++
	return nil
}

// Records returns a copy of the current record set without connection checks.
func (s *Store) Records() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.CloneRecords(s.records)
}
