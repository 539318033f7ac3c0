package store

import (
	"strings"
	"time"
)

// Record is one mailbox credential entry.
//
// Email is the natural key: at most one record with IsActive=true may exist
// per email. A soft-deleted record stays physically present so that a later
// add of the same email reactivates it in place, reusing its ID.
//
// The credential fields (Password, ClientID, RefreshToken) are opaque: the
// vault stores and forwards them, never interprets them.
type Record struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Password     string    `json:"password" db:"password"`
	ClientID     string    `json:"client_id" db:"client_id"`
	RefreshToken string    `json:"refresh_token" db:"refresh_token"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	Source       string    `json:"source" db:"source"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an email address so that the
// one-active-record-per-email invariant is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IndexByEmail builds a lookup map over a record set, keyed by normalized
// email. Built once per batch operation to keep reconciliation O(n).
func IndexByEmail(records []Record) map[string]*Record {
	idx := make(map[string]*Record, len(records))
	for i := range records {
		idx[NormalizeEmail(records[i].Email)] = &records[i]
	}
	return idx
}

// CloneRecords returns a deep copy of a record slice. Backends hand out
// copies so callers can never mutate a backend's internal state.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
