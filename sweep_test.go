package credvault

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skedia/credvault/store"
)

func seedActive(t *testing.T, v *Vault, emails ...string) map[string]string {
	t.Helper()
	ids := make(map[string]string, len(emails))
	for _, email := range emails {
		rec, err := v.Add(context.Background(), Credential{Email: email, Password: "p", ClientID: "cid", RefreshToken: "rt"})
		if err != nil {
			t.Fatalf("failed to seed record %s: %v", email, err)
		}
		ids[email] = rec.ID
	}
	return ids
}

func TestSweep_Classification(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	seedActive(t, v,
		"ok1@b.com", "ok2@b.com",
		"dead1@b.com", "dead2@b.com",
		"flaky@b.com",
	)

	result, err := v.Sweep(ctx, func(_ context.Context, rec Record) error {
		switch rec.Email {
		case "dead1@b.com", "dead2@b.com":
			return ErrCredentialDead
		case "flaky@b.com":
			return errors.New("connection timed out")
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}

	// Checked counts only probes that came back valid; transient failures
	// are counted separately and never retire anything.
	if result.Checked != 2 {
		t.Errorf("expected checked=2, got %d", result.Checked)
	}
	if result.Removed != 2 {
		t.Errorf("expected removed=2, got %d", result.Removed)
	}
	if result.Errors != 1 {
		t.Errorf("expected errors=1, got %d", result.Errors)
	}

	removed := make(map[string]bool, len(result.RemovedEmails))
	for _, email := range result.RemovedEmails {
		removed[email] = true
	}
	if len(removed) != 2 || !removed["dead1@b.com"] || !removed["dead2@b.com"] {
		t.Errorf("expected removed emails dead1/dead2, got %v", result.RemovedEmails)
	}

	active, err := v.GetActive(ctx)
	if err != nil {
		t.Fatalf("failed to list active records: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active records after sweep, got %d", len(active))
	}
	for _, rec := range active {
		if rec.Email == "dead1@b.com" || rec.Email == "dead2@b.com" {
			t.Errorf("expected %s to be retired", rec.Email)
		}
	}
}

func TestSweep_TransientErrorNeverRetires(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	seedActive(t, v, "a@b.com")

	result, err := v.Sweep(ctx, func(_ context.Context, _ Record) error {
		return errors.New("503 service unavailable")
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if result.Removed != 0 || result.Errors != 1 {
		t.Errorf("expected removed=0 errors=1, got removed=%d errors=%d",
			result.Removed, result.Errors)
	}

	got, err := v.GetByEmail(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if !got.IsActive {
		t.Error("expected record to survive a transient probe failure")
	}
}

func TestSweep_WrappedDeadErrorRetires(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	ids := seedActive(t, v, "a@b.com")

	result, err := v.Sweep(ctx, func(_ context.Context, _ Record) error {
		return errors.Join(errors.New("IMAP login rejected"), ErrCredentialDead)
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected removed=1, got %d", result.Removed)
	}

	got, err := v.GetByID(ctx, ids["a@b.com"])
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.IsActive {
		t.Error("expected wrapped dead classification to retire the record")
	}
}

func TestSweep_BoundedConcurrency(t *testing.T) {
	const limit = 3
	v, _ := newTestVault(t, WithSweepConcurrency(limit))
	ctx := context.Background()

	emails := make([]string, 20)
	for i := range emails {
		emails[i] = testEmail(i)
	}
	seedActive(t, v, emails...)

	var inFlight, peak int64
	var mu sync.Mutex

	_, err := v.Sweep(ctx, func(_ context.Context, _ Record) error {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		defer atomic.AddInt64(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}

	if peak > limit {
		t.Errorf("expected at most %d concurrent probes, observed %d", limit, peak)
	}
}

func TestSweep_FiltersNarrowTheTarget(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if _, err := v.Add(ctx, Credential{Email: "bought@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt", Source: "purchase"}); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	if _, err := v.Add(ctx, Credential{Email: "manual@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"}); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	var probed []string
	var mu sync.Mutex
	result, err := v.Sweep(ctx, func(_ context.Context, rec Record) error {
		mu.Lock()
		probed = append(probed, rec.Email)
		mu.Unlock()
		return ErrCredentialDead
	}, store.SourceIs("purchase"))
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}

	if len(probed) != 1 || probed[0] != "bought@b.com" {
		t.Errorf("expected only the purchase record probed, got %v", probed)
	}
	if result.Removed != 1 {
		t.Errorf("expected removed=1, got %d", result.Removed)
	}

	// Records outside the filter stay untouched.
	got, err := v.GetByEmail(ctx, "manual@b.com")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if !got.IsActive {
		t.Error("expected unfiltered record to stay active")
	}
}

func TestSweep_ProbeTimeout(t *testing.T) {
	v, _ := newTestVault(t, WithProbeTimeout(10*time.Millisecond))
	ctx := context.Background()

	seedActive(t, v, "slow@b.com")

	result, err := v.Sweep(ctx, func(probeCtx context.Context, _ Record) error {
		<-probeCtx.Done()
		return probeCtx.Err()
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if result.Errors != 1 || result.Removed != 0 {
		t.Errorf("expected stuck probe counted as transient, got %+v", result)
	}
}

func TestSweep_EmptySet(t *testing.T) {
	v, _ := newTestVault(t)

	called := false
	result, err := v.Sweep(context.Background(), func(_ context.Context, _ Record) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if called {
		t.Error("expected no probes against an empty set")
	}
	if result.Checked != 0 || result.Removed != 0 || result.Errors != 0 {
		t.Errorf("expected zero result, got %+v", result)
	}
}

func TestSweep_RequiresProbe(t *testing.T) {
	v, _ := newTestVault(t)
	if _, err := v.Sweep(context.Background(), nil); err == nil {
		t.Error("expected error for nil probe")
	}
}

func TestSweep_Cancellation(t *testing.T) {
	v, _ := newTestVault(t, WithSweepConcurrency(1))

	emails := make([]string, 5)
	for i := range emails {
		emails[i] = testEmail(i)
	}
	seedActive(t, v, emails...)

	ctx, cancel := context.WithCancel(context.Background())
	var probes int64
	result, err := v.Sweep(ctx, func(_ context.Context, _ Record) error {
		if atomic.AddInt64(&probes, 1) == 1 {
			cancel()
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if result == nil || !result.Interrupted {
		t.Error("expected result to report interruption")
	}
	if n := atomic.LoadInt64(&probes); n >= 5 {
		t.Errorf("expected sweep to stop early, probed %d records", n)
	}
}
