package credvault

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for vault events.
const (
	EventNameRecordAdded       = "credvault.record.added"
	EventNameRecordUpdated     = "credvault.record.updated"
	EventNameRecordReactivated = "credvault.record.reactivated"
	EventNameRecordRetired     = "credvault.record.retired"
	EventNameRecordDeleted     = "credvault.record.deleted"
)

// RecordAddedEvent is published when a new credential record is created.
type RecordAddedEvent struct {
	RecordID string    `json:"record_id"`
	Email    string    `json:"email"`
	Source   string    `json:"source"`
	AddedAt  time.Time `json:"added_at"`
}

// RecordUpdatedEvent is published when a record's credential fields change.
type RecordUpdatedEvent struct {
	RecordID  string    `json:"record_id"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordReactivatedEvent is published when a soft-deleted record is brought
// back by an add or batch reconciliation for the same email.
type RecordReactivatedEvent struct {
	RecordID      string    `json:"record_id"`
	Email         string    `json:"email"`
	ReactivatedAt time.Time `json:"reactivated_at"`
}

// RecordRetiredEvent is published when a record is soft-deleted, either
// explicitly or by a liveness sweep.
type RecordRetiredEvent struct {
	RecordID  string    `json:"record_id"`
	Email     string    `json:"email"`
	Reason    string    `json:"reason"` // "manual" or "sweep"
	RetiredAt time.Time `json:"retired_at"`
}

// RecordDeletedEvent is published when a record is physically removed.
type RecordDeletedEvent struct {
	RecordID  string    `json:"record_id"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each vault creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	vault.Events().RecordAdded.Subscribe(ctx, handler)
//	vault.Events().RecordRetired.Subscribe(ctx, handler)
type ServiceEvents struct {
	// RecordAdded is published when a new record is created.
	RecordAdded event.Event[RecordAddedEvent]

	// RecordUpdated is published when a record's credentials change.
	RecordUpdated event.Event[RecordUpdatedEvent]

	// RecordReactivated is published when a soft-deleted record comes back.
	RecordReactivated event.Event[RecordReactivatedEvent]

	// RecordRetired is published when a record is soft-deleted.
	RecordRetired event.Event[RecordRetiredEvent]

	// RecordDeleted is published when a record is physically removed.
	RecordDeleted event.Event[RecordDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		RecordAdded:       event.New[RecordAddedEvent](namePrefix + "." + EventNameRecordAdded),
		RecordUpdated:     event.New[RecordUpdatedEvent](namePrefix + "." + EventNameRecordUpdated),
		RecordReactivated: event.New[RecordReactivatedEvent](namePrefix + "." + EventNameRecordReactivated),
		RecordRetired:     event.New[RecordRetiredEvent](namePrefix + "." + EventNameRecordRetired),
		RecordDeleted:     event.New[RecordDeletedEvent](namePrefix + "." + EventNameRecordDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.RecordAdded); err != nil {
		return fmt.Errorf("register RecordAdded: %w", err)
	}
	if err := event.Register(ctx, bus, events.RecordUpdated); err != nil {
		return fmt.Errorf("register RecordUpdated: %w", err)
	}
	if err := event.Register(ctx, bus, events.RecordReactivated); err != nil {
		return fmt.Errorf("register RecordReactivated: %w", err)
	}
	if err := event.Register(ctx, bus, events.RecordRetired); err != nil {
		return fmt.Errorf("register RecordRetired: %w", err)
	}
	if err := event.Register(ctx, bus, events.RecordDeleted); err != nil {
		return fmt.Errorf("register RecordDeleted: %w", err)
	}
	return nil
}
