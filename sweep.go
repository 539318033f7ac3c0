package credvault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skedia/credvault/store"
)

// ProbeFunc checks whether a credential is still accepted by its provider.
//
// A nil return classifies the credential as valid. ErrCredentialDead (checked
// with errors.Is) classifies it as authoritatively rejected, and only that
// classification retires the record. Any other error is a transient probe
// failure: the record is left untouched and counted in SweepResult.Errors.
type ProbeFunc func(ctx context.Context, rec Record) error

// SweepResult contains the result of a liveness sweep.
type SweepResult struct {
	// Checked is the number of probes that classified the credential as
	// still valid.
	Checked int
	// Removed is the number of records retired as authoritatively dead.
	Removed int
	// RemovedEmails lists the emails of the retired records.
	RemovedEmails []string
	// Errors is the number of probes that failed transiently. Those records
	// stay active; a later sweep will probe them again.
	Errors int
	// Interrupted indicates the sweep stopped early (context cancelled).
	Interrupted bool
}

// Sweep probes every active record and retires the ones whose credentials
// the provider has authoritatively rejected.
//
// Probes run in fixed-size batches of the configured sweep concurrency
// (default 10); each batch is fully awaited before the next starts, bounding
// the load on the provider. A sweep never runs probes under the write lock:
// the record set is snapshotted first, probed, and the dead records retired
// in one write afterwards. Records that disappear between the snapshot and
// the write are skipped silently.
//
// Filters narrow the target set: only active records matching every filter
// are probed. A sweep over one acquisition source, for example:
//
//	vault.Sweep(ctx, probe, store.SourceIs("purchase"))
//
// or over an explicit id list with store.IDIn. The active set left after a
// sweep is available through GetActive.
//
// Sweeps are not scheduled by the library. Call this periodically from your
// own worker:
//
//	go func() {
//	    ticker := time.NewTicker(1 * time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        result, err := vault.Sweep(ctx, probe)
//	        if err != nil {
//	            log.Printf("sweep error: %v", err)
//	        } else if result.Removed > 0 {
//	            log.Printf("retired %d dead records", result.Removed)
//	        }
//	    }
//	}()
func (v *Vault) Sweep(ctx context.Context, probe ProbeFunc, filters ...Filter) (*SweepResult, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, fmt.Errorf("credvault: probe is required")
	}

	start := time.Now()
	ctx, endSpan := v.otel.startSpan(ctx, "credvault.Sweep")

	result, dead, err := v.sweep(ctx, probe, filters)
	endSpan(err)
	v.otel.recordSweep(ctx, time.Since(start), result.Checked, result.Removed, result.Errors)
	if err != nil {
		return result, err
	}

	var publishErr error
	for i := range dead {
		if perr := v.publishRetired(ctx, &dead[i], "sweep"); perr != nil && publishErr == nil {
			publishErr = perr
		}
	}

	v.logger.Info("liveness sweep complete",
		"checked", result.Checked,
		"removed", result.Removed,
		"errors", result.Errors,
		"duration", time.Since(start),
	)
	return result, publishErr
}

// probeOutcome is the classification of one probe.
type probeOutcome int

const (
	probeValid probeOutcome = iota
	probeDead
	probeTransient
)

func (v *Vault) sweep(ctx context.Context, probe ProbeFunc, filters []Filter) (*SweepResult, []Record, error) {
	result := &SweepResult{}

	// Snapshot outside the write lock so probes never block writers.
	active, err := v.Find(ctx, append([]Filter{store.ActiveOnly()}, filters...)...)
	if err != nil {
		return result, nil, err
	}
	if len(active) == 0 {
		return result, nil, nil
	}

	outcomes := make([]probeOutcome, len(active))
	batch := v.opts.sweepConcurrency

	for lo := 0; lo < len(active); lo += batch {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, nil, ctx.Err()
		}

		hi := lo + batch
		if hi > len(active) {
			hi = len(active)
		}

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// A probe that exceeds its timeout counts as transient.
				probeCtx, cancel := context.WithTimeout(ctx, v.opts.probeTimeout)
				defer cancel()
				outcomes[i] = classifyProbe(probe(probeCtx, active[i]))
			}(i)
		}
		wg.Wait()
	}

	var deadIDs []string
	for i, outcome := range outcomes {
		switch outcome {
		case probeValid:
			result.Checked++
		case probeDead:
			deadIDs = append(deadIDs, active[i].ID)
		case probeTransient:
			result.Errors++
			v.logger.Warn("liveness probe failed, keeping record",
				"id", active[i].ID, "email", active[i].Email)
		}
	}

	if len(deadIDs) == 0 {
		return result, nil, nil
	}

	dead, err := v.retireMany(ctx, deadIDs)
	if err != nil {
		return result, nil, err
	}
	result.Removed = len(dead)
	for i := range dead {
		result.RemovedEmails = append(result.RemovedEmails, dead[i].Email)
	}
	return result, dead, nil
}

func classifyProbe(err error) probeOutcome {
	switch {
	case err == nil:
		return probeValid
	case errors.Is(err, ErrCredentialDead):
		return probeDead
	default:
		return probeTransient
	}
}

// retireMany flips IsActive off for a set of record IDs in one write.
// IDs that no longer exist are skipped.
func (v *Vault) retireMany(ctx context.Context, ids []string) ([]Record, error) {
	if err := v.acquireWrite(ctx); err != nil {
		return nil, err
	}
	defer v.releaseWrite()

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	now := time.Now().UTC()
	var retired []Record
	for i := range records {
		if want[records[i].ID] && records[i].IsActive {
			records[i].IsActive = false
			records[i].UpdatedAt = now
			retired = append(retired, records[i])
		}
	}
	if len(retired) == 0 {
		return nil, nil
	}

	if v.rows != nil {
		rowCtx, cancel := context.WithTimeout(ctx, v.opts.operationTimeout)
		defer cancel()
		for _, rec := range retired {
			if err := v.rows.SetActive(rowCtx, rec.ID, false, now); err != nil {
				return nil, err
			}
		}
	} else if err := v.saveSet(ctx, records); err != nil {
		return nil, err
	}

	return retired, nil
}
