package stats

import "context"

// View is the backing store's materialized aggregate over all active records.
type View interface {
	Load(ctx context.Context) (Summary, error)
	Refresh(ctx context.Context) error
}
