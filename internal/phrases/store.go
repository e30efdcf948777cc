package phrases

import "context"

// Store holds additive phrase counts keyed by (region, phrase, category).
type Store interface {
	// AddDelta adds d.Weight to the stored count, inserting the row if absent.
	AddDelta(ctx context.Context, d Delta) error
	// Top returns the highest counts in region. The Global region sums
	// across every region.
	Top(ctx context.Context, region string, limit int) ([]Count, error)
	// Totals returns the hit total of region and of all regions.
	Totals(ctx context.Context, region string) (regionTotal, globalTotal int64, err error)
}
