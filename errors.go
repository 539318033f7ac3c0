package credvault

import (
	"errors"
	"fmt"

	"github.com/skedia/credvault/store"
)

// Sentinel errors for the credvault package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, credvault.ErrNotFound) will match both vault-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a record cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("credvault: %w", store.ErrNotFound)

	// ErrInvalidRecord is returned for record validation failures.
	ErrInvalidRecord = errors.New("credvault: invalid record")

	// ErrAlreadyExists is returned when adding a record whose email already
	// has an active record. Wraps store.ErrDuplicateEntry.
	ErrAlreadyExists = fmt.Errorf("credvault: %w", store.ErrDuplicateEntry)

	// ErrNothingToUpdate is returned when an update carries no changes.
	ErrNothingToUpdate = errors.New("credvault: nothing to update")

	// ErrBackendRequired is returned when no storage backend is configured.
	ErrBackendRequired = errors.New("credvault: backend is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("credvault: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("credvault: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("credvault: %w", store.ErrInvalidID)

	// ErrUnavailable is returned when a storage round trip fails.
	// Wraps store.ErrUnavailable for consistent error checking.
	ErrUnavailable = fmt.Errorf("credvault: %w", store.ErrUnavailable)

	// ErrCredentialDead is the classification a liveness probe returns when
	// the provider has authoritatively rejected the credential. Only this
	// error retires a record during a sweep; every other probe failure is
	// treated as transient and leaves the record untouched.
	ErrCredentialDead = errors.New("credvault: credential dead")

	// ErrEventClientRequired is returned when event client is nil.
	ErrEventClientRequired = errors.New("credvault: event client is required")
)

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credvault: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The record was added/retired/deleted, but the event notification
// failed. Check the RecordID field to identify which record this applies to.
type EventPublishError struct {
	Event    string // The event name (e.g., "RecordAdded", "RecordRetired")
	RecordID string // The record ID the event was for
	Err      error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("credvault: event %s publish failed for record %s: %v", e.Event, e.RecordID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and
// returns details. This is useful when eventErrorsFatal=true but you still
// want to know the underlying operation succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
