package credvault

import (
	"context"
	"time"
)

// Stats is an aggregate snapshot of the record set.
type Stats struct {
	// Total is the number of records, active and retired.
	Total int `json:"total"`
	// Active is the number of records with IsActive=true.
	Active int `json:"active"`
	// Retired is the number of soft-deleted records.
	Retired int `json:"retired"`
	// BySource counts active records per source label.
	BySource map[string]int `json:"by_source"`
	// OldestUpdate is the UpdatedAt of the stalest active record, zero when
	// there are none. Useful for judging sweep freshness.
	OldestUpdate time.Time `json:"oldest_update"`
}

// Stats computes aggregate statistics over the record set.
// Always reads from the backend; there is no cache to go stale.
func (v *Vault) Stats(ctx context.Context) (*Stats, error) {
	if err := v.checkAccess(); err != nil {
		return nil, err
	}

	records, err := v.loadSet(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    len(records),
		BySource: make(map[string]int),
	}
	for _, r := range records {
		if !r.IsActive {
			stats.Retired++
			continue
		}
		stats.Active++
		stats.BySource[r.Source]++
		if stats.OldestUpdate.IsZero() || r.UpdatedAt.Before(stats.OldestUpdate) {
			stats.OldestUpdate = r.UpdatedAt
		}
	}
	return stats, nil
}
