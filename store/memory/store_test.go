package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/skedia/credvault/store"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.LoadAll(ctx); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	records := []store.Record{{ID: "1", Email: "a@b.com"}}
	if err := s.SaveAll(ctx, records); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	res, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(res.Records) != 1 || res.Origin != store.OriginData {
		t.Errorf("unexpected load result: %+v", res)
	}

	// Returned slices are copies: mutating them must not leak into the store.
	res.Records[0].Email = "mutated@b.com"
	res2, _ := s.LoadAll(ctx)
	if res2.Records[0].Email != "a@b.com" {
		t.Error("expected LoadAll to return an isolated copy")
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if _, err := s.LoadAll(ctx); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after Close, got %v", err)
	}
}

func TestStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	s.FailLoad = store.ErrUnavailable
	if _, err := s.LoadAll(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected injected load error, got %v", err)
	}

	s.FailSave = store.ErrUnavailable
	if err := s.SaveAll(ctx, nil); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected injected save error, got %v", err)
	}
	if s.SaveCount != 0 {
		t.Errorf("failed saves must not count, got %d", s.SaveCount)
	}
}

func TestStore_LoadOrigin(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.LoadOrigin = store.OriginAbsent
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	res, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if res.Origin != store.OriginAbsent || len(res.Records) != 0 {
		t.Errorf("expected absent origin with empty set, got %+v", res)
	}

	// Once data is written, the origin override no longer applies.
	if err := s.SaveAll(ctx, []store.Record{{ID: "1"}}); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	res, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if res.Origin != store.OriginData {
		t.Errorf("expected data origin after save, got %v", res.Origin)
	}
}
