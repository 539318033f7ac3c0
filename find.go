package credvault

import (
	"context"

	"github.com/skedia/credvault/store"
)

// Find returns the records matching every filter, in backend order.
// With no filters it behaves like GetAll.
//
//	stale, err := vault.Find(ctx,
//	    store.ActiveOnly(),
//	    store.UpdatedBefore(time.Now().Add(-30*24*time.Hour)),
//	)
func (v *Vault) Find(ctx context.Context, filters ...Filter) ([]Record, error) {
	records, err := v.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return store.ApplyFilters(records, filters...), nil
}
