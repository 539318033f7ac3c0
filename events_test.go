package credvault

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/skedia/credvault/store/memory"
)

func TestEvents_AvailableAfterConnect(t *testing.T) {
	// Two vaults side by side: each gets its own bus with uniquely named
	// events, so the second Connect must not clash with the first.
	v1, _ := newTestVault(t)
	v2, _ := newTestVault(t)

	if v1.Events() == nil || v2.Events() == nil {
		t.Fatal("expected events to be available after Connect")
	}
}

func TestEvents_RedisTransport(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backend := memory.New()
	v, err := New(
		WithBackend(backend),
		WithRedisClient(client),
	)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := v.Connect(ctx); err != nil {
		t.Fatalf("failed to connect with redis transport: %v", err)
	}

	// The write path publishes through the Redis transport; the record
	// change must land regardless.
	rec, err := v.Add(ctx, Credential{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected record to be persisted")
	}

	if err := v.Close(ctx); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
}

func TestEvents_PublishFailureIsNotFatalByDefault(t *testing.T) {
	ctx := context.Background()

	// A Redis transport pointed at a dead server makes every publish fail.
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	var failures []string
	v, err := New(
		WithBackend(memory.New()),
		WithRedisClient(client),
		WithEventPublishFailureHandler(func(eventName string, _ error) {
			failures = append(failures, eventName)
		}),
	)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := v.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer v.Close(ctx)

	mr.Close()

	// The record change must still succeed; only the notification is lost.
	rec, err := v.Add(ctx, Credential{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("expected add to succeed despite publish failure, got %v", err)
	}

	got, err := v.GetByID(ctx, rec.ID)
	if err != nil || !got.IsActive {
		t.Errorf("expected persisted record, got %+v (err %v)", got, err)
	}
	if len(failures) == 0 {
		t.Error("expected the failure handler to be invoked")
	}
}

func TestEvents_PublishFailureFatalWhenConfigured(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	v, err := New(
		WithBackend(memory.New()),
		WithRedisClient(client),
		WithEventErrorsFatal(true),
	)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	if err := v.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer v.Close(ctx)

	mr.Close()

	rec, err := v.Add(ctx, Credential{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err == nil {
		t.Fatal("expected publish failure to surface")
	}

	epe, ok := IsEventPublishError(err)
	if !ok {
		t.Fatalf("expected EventPublishError, got %v", err)
	}
	if epe.Event != "RecordAdded" {
		t.Errorf("expected RecordAdded event, got %q", epe.Event)
	}
	// Even with fatal events the storage change itself went through, and
	// the record comes back alongside the error.
	if rec == nil {
		t.Error("expected the persisted record alongside the publish error")
	}
	got, gerr := v.GetByEmail(ctx, "a@b.com")
	if gerr != nil || got == nil {
		t.Errorf("expected record persisted despite publish failure, got %v", gerr)
	}

	var target *EventPublishError
	if !errors.As(err, &target) {
		t.Error("expected errors.As to match *EventPublishError")
	}
}
