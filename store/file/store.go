// Package file provides a local-filesystem Backend storing the record set
// as a single JSON document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/skedia/credvault/store"
)

// Compile-time check
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend over a JSON file on a local path.
//
// A missing or unreadable file degrades to an empty set (with the
// corresponding Origin); an empty mailbox list is always a valid state.
// Writes go through a temp file + rename so a crash mid-write never leaves
// a truncated document behind.
type Store struct {
	path      string
	logger    *slog.Logger
	connected int32
}

// New creates a file store for the given path.
func New(path string, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		path:   path,
		logger: o.logger,
	}
}

// Connect creates the containing directory and an empty document on first use.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	if s.path == "" {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("file: path is required")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("file: create directory: %w", err)
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(nil); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("file: initialize document: %w", err)
		}
		s.logger.Info("created empty credential document", "path", s.path)
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// LoadAll reads the full record set from disk.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &store.LoadResult{Origin: store.OriginAbsent}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", store.ErrUnavailable, s.path, err)
	}
	if len(data) == 0 {
		return &store.LoadResult{Origin: store.OriginAbsent}, nil
	}

	var records []store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("credential document is corrupt, treating as empty",
			"path", s.path, "error", err)
		return &store.LoadResult{Origin: store.OriginUnreadable}, nil
	}

	return &store.LoadResult{Records: records, Origin: store.OriginData}, nil
}

// SaveAll replaces the record set on disk.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.write(records); err != nil {
		return fmt.Errorf("%w: write %s: %v", store.ErrUnavailable, s.path, err)
	}
	return nil
}

// write marshals and atomically replaces the document.
func (s *Store) write(records []store.Record) error {
	if records == nil {
		records = []store.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
