package store

import (
	"strings"
	"time"
)

// Filter is a predicate over records. Filters compose by conjunction: a
// record matches when every filter returns true.
type Filter func(Record) bool

// ActiveOnly matches records that have not been soft-deleted.
func ActiveOnly() Filter {
	return func(r Record) bool { return r.IsActive }
}

// RetiredOnly matches soft-deleted records.
func RetiredOnly() Filter {
	return func(r Record) bool { return !r.IsActive }
}

// SourceIs matches records acquired from the given source label.
func SourceIs(source string) Filter {
	return func(r Record) bool { return r.Source == source }
}

// IDIn matches records whose ID is one of the given IDs.
func IDIn(ids ...string) Filter {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(r Record) bool { return set[r.ID] }
}

// EmailContains matches records whose email contains the given substring,
// case-insensitively.
func EmailContains(substr string) Filter {
	needle := strings.ToLower(substr)
	return func(r Record) bool {
		return strings.Contains(NormalizeEmail(r.Email), needle)
	}
}

// UpdatedBefore matches records whose last update is older than t. Useful
// for finding records a liveness sweep has not touched recently.
func UpdatedBefore(t time.Time) Filter {
	return func(r Record) bool { return r.UpdatedAt.Before(t) }
}

// CreatedAfter matches records created after t.
func CreatedAfter(t time.Time) Filter {
	return func(r Record) bool { return r.CreatedAt.After(t) }
}

// ApplyFilters returns the records matching all filters, preserving order.
// With no filters it returns the input unchanged.
func ApplyFilters(records []Record, filters ...Filter) []Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
next:
	for _, r := range records {
		for _, f := range filters {
			if !f(r) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out
}
