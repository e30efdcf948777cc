package stats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vibe-backend/internal/shared/remote"
)

// PGView reads global_stats_view.
type PGView struct {
	DB      *sql.DB
	Timeout time.Duration
	// RefreshTimeout bounds the materialized view refresh, which scans the table.
	RefreshTimeout time.Duration
}

// Load returns the last materialized aggregate.
func (v *PGView) Load(ctx context.Context) (Summary, error) {
	const query = `
SELECT total_users, avg_l, avg_p, avg_d, avg_e, avg_f, avg_messages, avg_chars, avg_work_days, refreshed_at
FROM global_stats_view
LIMIT 1`
	return remote.Get(ctx, v.Timeout, "stats.view_load", func(ctx context.Context) (Summary, error) {
		var s Summary
		err := v.DB.QueryRowContext(ctx, query).Scan(
			&s.TotalUsers,
			&s.AvgDimensions.L, &s.AvgDimensions.P, &s.AvgDimensions.D, &s.AvgDimensions.E, &s.AvgDimensions.F,
			&s.AvgCounters.Messages, &s.AvgCounters.Chars, &s.AvgCounters.WorkDays,
			&s.UpdatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, nil
		}
		if err != nil {
			return Summary{}, err
		}
		s.Source = SourceRecompute
		return s, nil
	})
}

// Refresh rematerializes the view without blocking readers.
func (v *PGView) Refresh(ctx context.Context) error {
	timeout := v.RefreshTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return remote.Do(ctx, timeout, "stats.view_refresh", func(ctx context.Context) error {
		_, err := v.DB.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY global_stats_view`)
		return err
	})
}
