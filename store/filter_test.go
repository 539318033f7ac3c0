package store

import (
	"testing"
	"time"
)

func TestApplyFilters(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "1", Email: "a@b.com", IsActive: true, Source: "manual", CreatedAt: base, UpdatedAt: base},
		{ID: "2", Email: "b@b.com", IsActive: false, Source: "manual", CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		{ID: "3", Email: "c@other.com", IsActive: true, Source: "purchase", CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour)},
	}

	tests := []struct {
		name    string
		filters []Filter
		wantIDs []string
	}{
		{"no filters", nil, []string{"1", "2", "3"}},
		{"active only", []Filter{ActiveOnly()}, []string{"1", "3"}},
		{"retired only", []Filter{RetiredOnly()}, []string{"2"}},
		{"by source", []Filter{SourceIs("purchase")}, []string{"3"}},
		{"by id list", []Filter{IDIn("1", "3")}, []string{"1", "3"}},
		{"by id list no match", []Filter{IDIn("9")}, nil},
		{"email substring", []Filter{EmailContains("@B.com")}, []string{"1", "2"}},
		{"updated before", []Filter{UpdatedBefore(base.Add(time.Minute))}, []string{"1"}},
		{"created after", []Filter{CreatedAfter(base.Add(time.Hour))}, []string{"3"}},
		{"conjunction", []Filter{ActiveOnly(), SourceIs("manual")}, []string{"1"}},
		{"no match", []Filter{ActiveOnly(), RetiredOnly()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyFilters(records, tt.filters...)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d records, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  user@example.com  ", "user@example.com"},
		{"already@lower.com", "already@lower.com"},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndexByEmail(t *testing.T) {
	records := []Record{
		{ID: "1", Email: "A@b.com"},
		{ID: "2", Email: "c@d.com"},
	}
	idx := IndexByEmail(records)

	if rec := idx["a@b.com"]; rec == nil || rec.ID != "1" {
		t.Error("expected lookup by normalized email")
	}

	// Index entries point into the slice so mutations stick.
	idx["c@d.com"].IsActive = true
	if !records[1].IsActive {
		t.Error("expected index to reference the underlying records")
	}
}
