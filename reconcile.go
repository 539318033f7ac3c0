package credvault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skedia/credvault/store"
)

// BatchAction classifies what reconciliation did with one input credential.
type BatchAction int

const (
	// BatchAdded means a new record was created.
	BatchAdded BatchAction = iota

	// BatchReactivated means a soft-deleted record for the same email was
	// brought back with the supplied credentials.
	BatchReactivated

	// BatchSkipped means an active record for the same email already exists
	// and was left untouched.
	BatchSkipped
)

// String returns a short label for logging.
func (a BatchAction) String() string {
	switch a {
	case BatchAdded:
		return "added"
	case BatchReactivated:
		return "reactivated"
	case BatchSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// BatchOutcome is the per-credential result of a batch reconciliation,
// returned in input order.
type BatchOutcome struct {
	// Email is the normalized email of the input credential.
	Email string
	// Action is what reconciliation did with this credential.
	Action BatchAction
	// RecordID is the affected record's ID (empty for skipped entries whose
	// duplicate appeared earlier in the same batch).
	RecordID string
}

// BatchResult contains the result of a batch reconciliation.
type BatchResult struct {
	// Outcomes contains the per-credential results in input order.
	Outcomes []BatchOutcome
}

// Added returns the number of records created.
func (r *BatchResult) Added() int { return r.count(BatchAdded) }

// Reactivated returns the number of records reactivated.
func (r *BatchResult) Reactivated() int { return r.count(BatchReactivated) }

// Skipped returns the number of credentials skipped as already active.
func (r *BatchResult) Skipped() int { return r.count(BatchSkipped) }

func (r *BatchResult) count(action BatchAction) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// AddBatch reconciles a batch of credentials against the record set in one
// read-modify-write cycle.
//
// Validation is all-or-nothing: if any credential in the batch is malformed
// the whole batch is rejected before anything is persisted. Past validation,
// the operation is idempotent: running the same batch twice yields the same
// record set. Per credential:
//   - no record for the email: a new one is created
//   - soft-deleted record: reactivated in place with the supplied fields
//   - active record: skipped, the stored credentials win
//
// Duplicate emails inside one batch collapse to the first occurrence; later
// ones are skipped. The whole batch is persisted in a single write, so a
// concurrent writer either sees none or all of it.
func (v *Vault) AddBatch(ctx context.Context, creds []Credential) (*BatchResult, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	for i, cred := range creds {
		email := store.NormalizeEmail(cred.Email)
		if verr := ValidateCredential(email, cred.Password, cred.ClientID, cred.RefreshToken); verr != nil {
			return nil, fmt.Errorf("credvault: batch entry %d (%q): %w", i, cred.Email, verr)
		}
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.AddBatch")

	result, changed, err := v.reconcile(ctx, creds)
	endSpan(err)
	v.otel.recordBatch(ctx, time.Since(start),
		result.Added(), result.Reactivated(), result.Skipped(), err)
	if err != nil {
		return nil, err
	}

	// Events go out after the persist succeeded, outside the write lock.
	var publishErr error
	for _, rec := range changed {
		var perr error
		if rec.reactivated {
			perr = v.publishReactivated(ctx, &rec.record)
		} else {
			perr = v.publishAdded(ctx, &rec.record)
		}
		if perr != nil && publishErr == nil {
			publishErr = perr
		}
	}

	v.logger.Info("batch reconciled",
		"input", len(creds),
		"added", result.Added(),
		"reactivated", result.Reactivated(),
		"skipped", result.Skipped(),
	)
	return result, publishErr
}

type changedRecord struct {
	record      Record
	reactivated bool
}

func (v *Vault) reconcile(ctx context.Context, creds []Credential) (*BatchResult, []changedRecord, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, nil, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	index := store.IndexByEmail(records)
	result := &BatchResult{Outcomes: make([]BatchOutcome, 0, len(creds))}

	var changed []changedRecord
	var dirty []store.Record            // rows for SaveBatch when the backend is row-capable
	var created []store.Record          // new records, appended to the set at the end
	batchNew := make(map[string]string) // email -> record ID added earlier in this batch

	for _, cred := range creds {
		email := store.NormalizeEmail(cred.Email)

		if id, ok := batchNew[email]; ok {
			// Duplicate email inside the batch: first occurrence wins.
			result.Outcomes = append(result.Outcomes, BatchOutcome{
				Email: email, Action: BatchSkipped, RecordID: id,
			})
			continue
		}

		existing := index[email]
		switch {
		case existing != nil && existing.IsActive:
			result.Outcomes = append(result.Outcomes, BatchOutcome{
				Email: email, Action: BatchSkipped, RecordID: existing.ID,
			})

		case existing != nil:
			existing.Password = cred.Password
			existing.ClientID = cred.ClientID
			existing.RefreshToken = cred.RefreshToken
			existing.IsActive = true
			existing.UpdatedAt = now
			if cred.Source != "" {
				existing.Source = cred.Source
			}
			changed = append(changed, changedRecord{record: *existing, reactivated: true})
			dirty = append(dirty, *existing)
			result.Outcomes = append(result.Outcomes, BatchOutcome{
				Email: email, Action: BatchReactivated, RecordID: existing.ID,
			})

		default:
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
			created = append(created, rec)
			batchNew[email] = rec.ID
			changed = append(changed, changedRecord{record: rec})
			dirty = append(dirty, rec)
			result.Outcomes = append(result.Outcomes, BatchOutcome{
				Email: email, Action: BatchAdded, RecordID: rec.ID,
			})
		}
	}

	if len(dirty) == 0 {
		return result, nil, nil
	}

	if v.rows != nil {
		rowCtx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
		defer cancel()
		if err := v.rows.SaveBatch(rowCtx, dirty); err != nil {
			return nil, nil, err
		}
	} else if err := v.saveSet(ctx, append(records, created...)); err != nil {
		return nil, nil, err
	}

	return result, changed, nil
}

// RetireBatch soft-deletes a set of records by ID in one write. It is
// best-effort per ID: unknown IDs and records that are already retired are
// skipped, and the count of records actually transitioned is returned.
func (v *Vault) RetireBatch(ctx context.Context, ids []string) (int, error) {
	if err := v.checkAccess(); err != nil {
		return 0, err
	}

	ctx, endSpan := v.otel.startSpan(ctx, "credvault.RetireBatch")
	retired, err := v.retireMany(ctx, ids)
	endSpan(err)
	if err != nil {
		return 0, err
	}

	var publishErr error
	for i := range retired {
		if perr := v.publishRetired(ctx, &retired[i], "manual"); perr != nil && publishErr == nil {
			publishErr = perr
		}
	}
	return len(retired), publishErr
}
