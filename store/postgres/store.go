// Package postgres provides a PostgreSQL implementation of store.Backend
// and store.RowBackend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/skedia/credvault/store"
)

// Compile-time checks
var (
	_ store.Backend    = (*Store)(nil)
	_ store.RowBackend = (*Store)(nil)
)

// Store implements store.Backend and store.RowBackend using PostgreSQL.
//
// Unlike the document backends, every record is a row and single-record
// operations touch only that row. SaveAll still replaces the whole set so
// the store stays interchangeable with the document backends.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: postgres ping: %v", store.ErrUnavailable, err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required table and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			password VARCHAR(1024) NOT NULL,
			client_id VARCHAR(255) NOT NULL DEFAULT '',
			refresh_token VARCHAR(2048) NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			source VARCHAR(50) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	// Email is the reconciliation key: unique regardless of case.
	uniqueIdx := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_email
		ON %s (LOWER(email))
	`, s.opts.table, s.opts.table)
	if _, err := s.db.ExecContext(ctx, uniqueIdx); err != nil {
		return fmt.Errorf("create email index: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_active ON %s(is_active)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at DESC)`, s.opts.table, s.opts.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// LoadAll returns every record in the table.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, email, password, client_id, refresh_token,
		       is_active, source, created_at, updated_at
		FROM %s
		ORDER BY created_at
	`, s.opts.table)

	var records []store.Record
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("%w: select records: %v", store.ErrUnavailable, err)
	}

	return &store.LoadResult{Records: records, Origin: store.OriginData}, nil
}

// SaveAll replaces the entire record set in one transaction.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.opts.table)); err != nil {
		return fmt.Errorf("%w: clear table: %v", store.ErrUnavailable, err)
	}
	for i := range records {
		if err := s.insertTx(ctx, tx, records[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrUnavailable, err)
	}
	return nil
}

// InsertRecord inserts one record. A conflicting email maps to
// ErrDuplicateEntry.
func (s *Store) InsertRecord(ctx context.Context, rec store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.insertTx(ctx, s.db, rec)
}

// insertTx runs the insert against either the DB or an open transaction.
func (s *Store) insertTx(ctx context.Context, q sqlx.ExecerContext, rec store.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, email, password, client_id, refresh_token,
		                is_active, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.opts.table)

	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.Email, rec.Password, rec.ClientID, rec.RefreshToken,
		rec.IsActive, rec.Source, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s", store.ErrDuplicateEntry, rec.Email)
		}
		return fmt.Errorf("%w: insert record: %v", store.ErrUnavailable, err)
	}
	return nil
}

// UpdateRecord updates all mutable fields of one record by ID.
func (s *Store) UpdateRecord(ctx context.Context, rec store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET email = $2, password = $3, client_id = $4, refresh_token = $5,
		    is_active = $6, source = $7, updated_at = $8
		WHERE id = $1
	`, s.opts.table)

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Email, rec.Password, rec.ClientID, rec.RefreshToken,
		rec.IsActive, rec.Source, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email %s", store.ErrDuplicateEntry, rec.Email)
		}
		return fmt.Errorf("%w: update record: %v", store.ErrUnavailable, err)
	}
	return checkAffected(res)
}

// SetActive flips the active flag of one record.
func (s *Store) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET is_active = $2, updated_at = $3 WHERE id = $1
	`, s.opts.table)

	res, err := s.db.ExecContext(ctx, query, id, active, updatedAt)
	if err != nil {
		return fmt.Errorf("%w: set active: %v", store.ErrUnavailable, err)
	}
	return checkAffected(res)
}

// DeleteRecord removes one record by ID.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.table)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: delete record: %v", store.ErrUnavailable, err)
	}
	return checkAffected(res)
}

// SaveBatch upserts a batch of records keyed by email in one transaction.
// Existing rows are updated in place, new rows inserted.
func (s *Store) SaveBatch(ctx context.Context, records []store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, email, password, client_id, refresh_token,
		                is_active, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (LOWER(email)) DO UPDATE
		SET password = EXCLUDED.password,
		    client_id = EXCLUDED.client_id,
		    refresh_token = EXCLUDED.refresh_token,
		    is_active = EXCLUDED.is_active,
		    source = EXCLUDED.source,
		    updated_at = EXCLUDED.updated_at
	`, s.opts.table)

	for i := range records {
		rec := &records[i]
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.Email, rec.Password, rec.ClientID, rec.RefreshToken,
			rec.IsActive, rec.Source, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("%w: upsert record %s: %v", store.ErrUnavailable, rec.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrUnavailable, err)
	}

	s.logger.Debug("saved record batch", "records", len(records))
	return nil
}

// checkAffected maps a zero-row update or delete to ErrNotFound.
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether an error is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
