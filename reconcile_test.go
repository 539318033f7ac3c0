package credvault

import (
	"context"
	"errors"
	"testing"

	"github.com/skedia/credvault/store"
)

func TestAddBatch_Triage(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	// One active record, one retired.
	active, err := v.Add(ctx, Credential{Email: "active@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	retired, err := v.Add(ctx, Credential{Email: "retired@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	if err := v.Retire(ctx, retired.ID); err != nil {
		t.Fatalf("failed to retire record: %v", err)
	}

	result, err := v.AddBatch(ctx, []Credential{
		{Email: "active@b.com", Password: "other", ClientID: "cid", RefreshToken: "rt"},
		{Email: "retired@b.com", Password: "fresh", ClientID: "cid", RefreshToken: "rt"},
		{Email: "new@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
	})
	if err != nil {
		t.Fatalf("failed to reconcile batch: %v", err)
	}

	if result.Added() != 1 || result.Reactivated() != 1 || result.Skipped() != 1 {
		t.Errorf("expected 1/1/1, got added=%d reactivated=%d skipped=%d",
			result.Added(), result.Reactivated(), result.Skipped())
	}

	// Outcomes come back in input order.
	wantActions := []BatchAction{BatchSkipped, BatchReactivated, BatchAdded}
	for i, want := range wantActions {
		if result.Outcomes[i].Action != want {
			t.Errorf("outcome %d: expected %s, got %s", i, want, result.Outcomes[i].Action)
		}
	}
	if result.Outcomes[0].RecordID != active.ID {
		t.Errorf("skipped outcome should reference the existing record")
	}
	if result.Outcomes[1].RecordID != retired.ID {
		t.Errorf("reactivated outcome should reuse the retired record's ID")
	}

	// Skipped records keep their stored credentials.
	got, err := v.GetByEmail(ctx, "active@b.com")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Password != "p" {
		t.Errorf("expected stored credentials to win, got password %q", got.Password)
	}

	// Reactivated records take the batch credentials.
	got, err = v.GetByEmail(ctx, "retired@b.com")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if !got.IsActive || got.Password != "fresh" {
		t.Errorf("expected reactivated record with new password, got active=%v password=%q",
			got.IsActive, got.Password)
	}
}

func TestAddBatch_Idempotent(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	batch := []Credential{
		{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
		{Email: "b@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
		{Email: "c@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
	}

	first, err := v.AddBatch(ctx, batch)
	if err != nil {
		t.Fatalf("failed to reconcile batch: %v", err)
	}
	if first.Added() != 3 {
		t.Fatalf("expected 3 added, got %d", first.Added())
	}

	second, err := v.AddBatch(ctx, batch)
	if err != nil {
		t.Fatalf("failed to reconcile batch again: %v", err)
	}
	if second.Added() != 0 || second.Skipped() != 3 {
		t.Errorf("expected rerun to skip everything, got added=%d skipped=%d",
			second.Added(), second.Skipped())
	}

	records, err := v.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records after rerun, got %d", len(records))
	}
}

func TestAddBatch_ValidationIsAllOrNothing(t *testing.T) {
	v, backend := newTestVault(t)
	ctx := context.Background()

	saves := backend.SaveCount
	_, err := v.AddBatch(ctx, []Credential{
		{Email: "ok@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
		{Email: "not-an-email", Password: "p", ClientID: "cid", RefreshToken: "rt"},
		{Email: "also-ok@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"},
	})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}

	// Nothing may have been persisted, not even the valid entries.
	if backend.SaveCount != saves {
		t.Error("expected no writes for a rejected batch")
	}
	records, err := v.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected unchanged set, got %d records", len(records))
	}
}

func TestAddBatch_DuplicateEmailsWithinBatch(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	result, err := v.AddBatch(ctx, []Credential{
		{Email: "a@b.com", Password: "first", ClientID: "cid", RefreshToken: "rt"},
		{Email: "A@B.com", Password: "second", ClientID: "cid", RefreshToken: "rt"},
	})
	if err != nil {
		t.Fatalf("failed to reconcile batch: %v", err)
	}

	if result.Added() != 1 || result.Skipped() != 1 {
		t.Errorf("expected first occurrence to win, got added=%d skipped=%d",
			result.Added(), result.Skipped())
	}

	got, err := v.GetByEmail(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Password != "first" {
		t.Errorf("expected first occurrence's credentials, got %q", got.Password)
	}
}

func TestAddBatch_SingleWrite(t *testing.T) {
	v, backend := newTestVault(t)
	ctx := context.Background()

	saves := backend.SaveCount
	batch := make([]Credential, 20)
	for i := range batch {
		batch[i] = Credential{Email: testEmail(i), Password: "p", ClientID: "cid", RefreshToken: "rt"}
	}
	if _, err := v.AddBatch(ctx, batch); err != nil {
		t.Fatalf("failed to reconcile batch: %v", err)
	}

	if got := backend.SaveCount - saves; got != 1 {
		t.Errorf("expected one backend write for the whole batch, got %d", got)
	}
}

func TestAddBatch_SaveFailurePropagates(t *testing.T) {
	v, backend := newTestVault(t)
	ctx := context.Background()

	backend.FailSave = store.ErrUnavailable
	_, err := v.AddBatch(ctx, []Credential{{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"}})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected save failure to propagate, got %v", err)
	}
}

func TestRetireBatch(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	a, err := v.Add(ctx, Credential{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	b, err := v.Add(ctx, Credential{Email: "b@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	if err := v.Retire(ctx, b.ID); err != nil {
		t.Fatalf("failed to retire record: %v", err)
	}

	// Best-effort: one live target, one already retired, one unknown.
	n, err := v.RetireBatch(ctx, []string{a.ID, b.ID, "missing"})
	if err != nil {
		t.Fatalf("failed to retire batch: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 transition, got %d", n)
	}

	active, err := v.GetActive(ctx)
	if err != nil {
		t.Fatalf("failed to list active records: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active records, got %d", len(active))
	}
}

// testEmail generates a unique valid address per index.
func testEmail(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%len(letters)]) + string(letters[(i/len(letters))%len(letters)]) + "@example.com"
}
