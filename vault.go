package credvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/skedia/credvault/store"
)

// Record is re-exported so users can work with the credvault package without
// importing store directly.
type Record = store.Record

// Connection states.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// Credential is the caller-supplied input for adding a record.
// Email, Password, ClientID, and RefreshToken are all required; Email is
// normalized to lowercase. Source is optional and falls back to the
// configured default.
type Credential struct {
	Email        string
	Password     string
	ClientID     string
	RefreshToken string
	Source       string
}

// Update describes a partial change to a record's credential fields.
// Nil fields are left untouched. An Update with no fields set is rejected
// with ErrNothingToUpdate.
type Update struct {
	Password     *string
	ClientID     *string
	RefreshToken *string
	Source       *string
}

func (u Update) empty() bool {
	return u.Password == nil && u.ClientID == nil && u.RefreshToken == nil && u.Source == nil
}

// Vault manages the credential record set on top of an interchangeable
// storage backend.
//
// All mutating operations run under a process-local write lock (a weighted
// semaphore of size 1), so concurrent writers are serialized in FIFO order
// and a read-modify-write cycle against a whole-set backend can never lose
// another writer's update. Backends with row-level access (RowBackend) get
// single-row fast paths that skip the whole-set rewrite but still take the
// lock, keeping the email-uniqueness check race free.
type Vault struct {
	backend  store.Backend
	rows     store.RowBackend // nil unless the backend is row-capable
	logger   *slog.Logger
	opts     *options
	state    int32
	otel     *otelInstrumentation
	writeSem *semaphore.Weighted
	eventBus *event.Bus
	events   *ServiceEvents
}

// New creates a new vault. Call Connect() to establish the backend
// connection before using it.
func New(opts ...Option) (*Vault, error) {
	o := newOptions(opts...)

	if o.backend == nil {
		return nil, ErrBackendRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	rows, _ := o.backend.(store.RowBackend)

	return &Vault{
		backend:  o.backend,
		rows:     rows,
		logger:   o.logger,
		opts:     o,
		otel:     otelInstr,
		writeSem: semaphore.NewWeighted(1),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
// Nil until Connect() succeeds.
func (v *Vault) Events() *ServiceEvents {
	return v.events
}

// IsConnected returns true if the vault is connected and ready.
func (v *Vault) IsConnected() bool {
	return atomic.LoadInt32(&v.state) == stateConnected
}

// Connect establishes the backend connection and the event bus.
func (v *Vault) Connect(ctx context.Context) error {
	// Three-state transition so operations never observe partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&v.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&v.state, stateConnected)
		} else {
			atomic.StoreInt32(&v.state, stateDisconnected)
		}
	}()

	if err := v.backend.Connect(ctx); err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}

	if err := v.initEventBus(ctx); err != nil {
		v.backend.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	v.logger.Info("credential vault connected", "row_capable", v.rows != nil)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this vault.
// Each vault creates its own bus with its own uniquely named events.
func (v *Vault) initEventBus(ctx context.Context) error {
	serviceName := v.opts.serviceName
	if serviceName == "" {
		serviceName = "credvault"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case v.opts.eventTransport != nil:
		v.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(v.opts.eventTransport))
	case v.opts.redisClient != nil:
		v.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(v.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		v.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	v.eventBus = bus

	v.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, v.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close waits for the in-flight write (if any) and closes the backend.
func (v *Vault) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&v.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// After the state flip, no new writes can start because checkAccess
	// fails. Acquiring the write semaphore waits out the one in flight.
	drainCtx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
	defer cancel()
	if err := v.writeSem.Acquire(drainCtx, 1); err != nil {
		v.logger.Warn("timeout waiting for in-flight write, proceeding with shutdown", "error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		v.writeSem.Release(1)
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if v.eventBus != nil && (v.opts.eventTransport != nil || v.opts.redisClient != nil) {
		if err := v.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := v.backend.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	return errors.Join(errs...)
}

// checkAccess returns an error when the vault is not connected.
func (v *Vault) checkAccess() error {
	if atomic.LoadInt32(&v.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// acquireWrite takes the write lock. Waiters are served in FIFO order and
// respect context cancellation.
func (v *Vault) acquireWrite(ctx context.Context) error {
	if err := v.writeSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("credvault: acquire write lock: %w", err)
	}
	return nil
}

func (v *Vault) releaseWrite() {
	v.writeSem.Release(1)
}

// loadSet reads the full record set, logging degraded origins.
func (v *Vault) loadSet(ctx context.Context) ([]store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
	defer cancel()

	res, err := v.backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if res.Origin != store.OriginData {
		v.logger.Warn("record set degraded to empty", "origin", res.Origin.String())
	}
	return res.Records, nil
}

// saveSet writes the full record set.
func (v *Vault) saveSet(ctx context.Context, records []store.Record) error {
	ctx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
	defer cancel()

	if err := v.backend.SaveAll(ctx, records); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

// Add creates a new credential record, or reactivates the soft-deleted
// record holding the same email.
//
// An active record with the same email is an error (ErrAlreadyExists). A
// soft-deleted one is brought back in place: it keeps its ID and CreatedAt,
// takes the supplied credential fields, and keeps its original Source unless
// the caller supplies one.
func (v *Vault) Add(ctx context.Context, cred Credential) (*Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}

	email := store.NormalizeEmail(cred.Email)
	if err := ValidateCredential(email, cred.Password, cred.ClientID, cred.RefreshToken); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.Add")

	rec, reactivated, err := v.add(ctx, email, cred)
	endSpan(err)
	v.otel.recordAdd(ctx, time.Since(start), reactivated, err)
	if err != nil {
		return nil, err
	}

	if reactivated {
		return rec, v.publishReactivated(ctx, rec)
	}
	return rec, v.publishAdded(ctx, rec)
}

func (v *Vault) add(ctx context.Context, email string, cred Credential) (*Record, bool, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, false, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	existing := store.IndexByEmail(records)[email]

	if existing != nil && existing.IsActive {
		return nil, false, fmt.Errorf("%w: %s", ErrAlreadyExists, email)
	}

	if existing != nil {
		// Reactivate in place. Source is sticky: the original label survives
		// unless the caller supplies a new one.
		existing.Password = cred.Password
		existing.ClientID = cred.ClientID
		existing.RefreshToken = cred.RefreshToken
		existing.IsActive = true
		existing.UpdatedAt = now
		if cred.Source != "" {
			existing.Source = cred.Source
		}

		if err := v.persistOne(ctx, records, *existing, false); err != nil {
			return nil, false, err
		}
		out := *existing
		v.logger.Info("record reactivated", "id", out.ID, "email", out.Email)
		return &out, true, nil
	}

	source := cred.Source
	if source == "" {
		source = v.opts.defaultSource
	}
	rec := store.Record{
		ID:           uuid.New().String(),
		Email:        email,
		Password:     cred.Password,
		ClientID:     cred.ClientID,
		RefreshToken: cred.RefreshToken,
		IsActive:     true,
		Source:       source,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := v.persistOne(ctx, append(records, rec), rec, true); err != nil {
		return nil, false, err
	}
	v.logger.Info("record added", "id", rec.ID, "email", rec.Email, "source", rec.Source)
	return &rec, false, nil
}

// persistOne writes a single-record change: a row operation when the backend
// supports it, otherwise a whole-set rewrite. fullSet is the record set with
// the change already applied.
func (v *Vault) persistOne(ctx context.Context, fullSet []store.Record, rec store.Record, insert bool) error {
	if v.rows != nil {
		ctx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
		defer cancel()
		if insert {
			return v.rows.InsertRecord(ctx, rec)
		}
		return v.rows.UpdateRecord(ctx, rec)
	}
	return v.saveSet(ctx, fullSet)
}

// UpdateByID changes credential fields of one record.
func (v *Vault) UpdateByID(ctx context.Context, id string, upd Update) (*Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}
	if upd.empty() {
		return nil, ErrNothingToUpdate
	}
	if upd.Password != nil {
		if err := ValidatePassword(*upd.Password); err != nil {
			return nil, err
		}
	}
	if upd.ClientID != nil {
		if err := ValidateClientID(*upd.ClientID); err != nil {
			return nil, err
		}
	}
	if upd.RefreshToken != nil {
		if err := ValidateRefreshToken(*upd.RefreshToken); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.UpdateByID")

	rec, err := v.update(ctx, func(r *store.Record) bool { return r.ID == id }, upd)
	endSpan(err)
	v.otel.recordUpdate(ctx, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return rec, v.publishUpdated(ctx, rec)
}

// UpdateByEmail changes credential fields of the record holding an email.
func (v *Vault) UpdateByEmail(ctx context.Context, email string, upd Update) (*Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	email = store.NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if upd.empty() {
		return nil, ErrNothingToUpdate
	}
	if upd.Password != nil {
		if err := ValidatePassword(*upd.Password); err != nil {
			return nil, err
		}
	}
	if upd.ClientID != nil {
		if err := ValidateClientID(*upd.ClientID); err != nil {
			return nil, err
		}
	}
	if upd.RefreshToken != nil {
		if err := ValidateRefreshToken(*upd.RefreshToken); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.UpdateByEmail")

	rec, err := v.update(ctx, func(r *store.Record) bool {
		return store.NormalizeEmail(r.Email) == email
	}, upd)
	endSpan(err)
	v.otel.recordUpdate(ctx, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return rec, v.publishUpdated(ctx, rec)
}

func (v *Vault) update(ctx context.Context, match func(*store.Record) bool, upd Update) (*Record, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	var target *store.Record
	for i := range records {
		if match(&records[i]) {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return nil, ErrNotFound
	}

	if upd.Password != nil {
		target.Password = *upd.Password
	}
	if upd.ClientID != nil {
		target.ClientID = *upd.ClientID
	}
	if upd.RefreshToken != nil {
		target.RefreshToken = *upd.RefreshToken
	}
	if upd.Source != nil {
		target.Source = *upd.Source
	}
	target.UpdatedAt = time.Now().UTC()

	if err := v.persistOne(ctx, records, *target, false); err != nil {
		return nil, err
	}

	out := *target
	v.logger.Info("record updated", "id", out.ID, "email", out.Email)
	return &out, nil
}

// Retire soft-deletes a record by ID. The record stays in storage with
// IsActive=false so a later add of the same email reactivates it in place.
func (v *Vault) Retire(ctx context.Context, id string) error {
	return v.retire(ctx, id, "manual")
}

func (v *Vault) retire(ctx context.Context, id, reason string) error {
	if err := v.checkAccess(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.Retire")

	rec, err := v.setActive(ctx, id, false)
	endSpan(err)
	v.otel.recordDelete(ctx, time.Since(start), false, err)
	if err != nil {
		return err
	}

	v.logger.Info("record retired", "id", rec.ID, "email", rec.Email, "reason", reason)
	return v.publishRetired(ctx, rec, reason)
}

func (v *Vault) setActive(ctx context.Context, id string, active bool) (*Record, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	var target *store.Record
	for i := range records {
		if records[i].ID == id {
			target = &records[i]
			break
		}
	}
	if target == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	target.IsActive = active
	target.UpdatedAt = now

	if v.rows != nil {
		rowCtx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
		defer cancel()
		if err := v.rows.SetActive(rowCtx, id, active, now); err != nil {
			return nil, err
		}
	} else if err := v.saveSet(ctx, records); err != nil {
		return nil, err
	}

	out := *target
	return &out, nil
}

// Delete physically removes a record by ID. Unlike Retire, the email is
// forgotten entirely and a later add starts from scratch.
func (v *Vault) Delete(ctx context.Context, id string) error {
	if err := v.checkAccess(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.Delete")

	rec, err := v.delete(ctx, id)
	endSpan(err)
	v.otel.recordDelete(ctx, time.Since(start), true, err)
	if err != nil {
		return err
	}

	v.logger.Info("record deleted", "id", rec.ID, "email", rec.Email)
	return v.publishDeleted(ctx, rec)
}

func (v *Vault) delete(ctx context.Context, id string) (*Record, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	removed := records[idx]

	if v.rows != nil {
		rowCtx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
		defer cancel()
		if err := v.rows.DeleteRecord(rowCtx, id); err != nil {
			return nil, err
		}
	} else {
		rest := append(records[:idx:idx], records[idx+1:]...)
		if err := v.saveSet(ctx, rest); err != nil {
			return nil, err
		}
	}

	return &removed, nil
}

// GetAll returns every record, active and retired.
func (v *Vault) GetAll(ctx context.Context) ([]Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.GetAll")

	records, err := v.loadSet(ctx)
	endSpan(err)
	v.otel.recordGet(ctx, time.Since(start), err)
	return records, err
}

// GetActive returns only records with IsActive=true.
func (v *Vault) GetActive(ctx context.Context) ([]Record, error) {
	records, err := v.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Record, 0, len(records))
	for _, r := range records {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// GetByID returns the record with the given ID.
func (v *Vault) GetByID(ctx context.Context, id string) (*Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.GetByID")

	records, err := v.loadSet(ctx)
	if err == nil {
		for i := range records {
			if records[i].ID == id {
				endSpan(nil)
				v.otel.recordGet(ctx, time.Since(start), nil)
				out := records[i]
				return &out, nil
			}
		}
		err = ErrNotFound
	}
	endSpan(err)
	v.otel.recordGet(ctx, time.Since(start), err)
	return nil, err
}

// GetByEmail returns the record holding the given email, active or not.
// At most one such record can exist.
func (v *Vault) GetByEmail(ctx context.Context, email string) (*Record, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	email = store.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidID
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.GetByEmail")

	records, err := v.loadSet(ctx)
	if err == nil {
		if rec := store.IndexByEmail(records)[email]; rec != nil {
			endSpan(nil)
			v.otel.recordGet(ctx, time.Since(start), nil)
			out := *rec
			return &out, nil
		}
		err = ErrNotFound
	}
	endSpan(err)
	v.otel.recordGet(ctx, time.Since(start), err)
	return nil, err
}

func (v *Vault) publishAdded(ctx context.Context, rec *Record) error {
	err := v.events.RecordAdded.Publish(ctx, RecordAddedEvent{
		RecordID: rec.ID,
		Email:    rec.Email,
		Source:   rec.Source,
		AddedAt:  rec.CreatedAt,
	})
	return v.handlePublishErr(ctx, "RecordAdded", rec.ID, err)
}

func (v *Vault) publishUpdated(ctx context.Context, rec *Record) error {
	err := v.events.RecordUpdated.Publish(ctx, RecordUpdatedEvent{
		RecordID:  rec.ID,
		Email:     rec.Email,
		UpdatedAt: rec.UpdatedAt,
	})
	return v.handlePublishErr(ctx, "RecordUpdated", rec.ID, err)
}

func (v *Vault) publishReactivated(ctx context.Context, rec *Record) error {
	err := v.events.RecordReactivated.Publish(ctx, RecordReactivatedEvent{
		RecordID:      rec.ID,
		Email:         rec.Email,
		ReactivatedAt: rec.UpdatedAt,
	})
	return v.handlePublishErr(ctx, "RecordReactivated", rec.ID, err)
}

func (v *Vault) publishRetired(ctx context.Context, rec *Record, reason string) error {
	err := v.events.RecordRetired.Publish(ctx, RecordRetiredEvent{
		RecordID:  rec.ID,
		Email:     rec.Email,
		Reason:    reason,
		RetiredAt: rec.UpdatedAt,
	})
	return v.handlePublishErr(ctx, "RecordRetired", rec.ID, err)
}

func (v *Vault) publishDeleted(ctx context.Context, rec *Record) error {
	err := v.events.RecordDeleted.Publish(ctx, RecordDeletedEvent{
		RecordID:  rec.ID,
		Email:     rec.Email,
		DeletedAt: time.Now().UTC(),
	})
	return v.handlePublishErr(ctx, "RecordDeleted", rec.ID, err)
}

// handlePublishErr applies the eventErrorsFatal policy to a publish failure.
// The storage change has already succeeded by the time this runs.
func (v *Vault) handlePublishErr(_ context.Context, eventName, recordID string, err error) error {
	if err == nil {
		return nil
	}
	if v.opts.eventErrorsFatal {
		return &EventPublishError{Event: eventName, RecordID: recordID, Err: err}
	}
	v.opts.safeEventPublishFailure(eventName, err)
	return nil
}
