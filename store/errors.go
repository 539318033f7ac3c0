package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a record cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrDuplicateEntry is returned when an insert conflicts with an
	// existing active record for the same email.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrUnavailable is returned when a storage round trip fails
	// (network, disk, or database error). Write-side occurrences must
	// always propagate to the caller.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
