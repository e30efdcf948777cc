package phrases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/remote"
)

// PGStore implements Store using Postgres.
type PGStore struct {
	DB      *sql.DB
	Timeout time.Duration
}

// AddDelta upserts with an additive conflict clause so concurrent flushes
// from any number of instances converge on the same total.
func (s *PGStore) AddDelta(ctx context.Context, d Delta) error {
	const query = `
INSERT INTO phrase_counts (region, phrase, category, hit_count, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (region, phrase, category) DO UPDATE SET
	hit_count = phrase_counts.hit_count + EXCLUDED.hit_count,
	updated_at = NOW()`
	return remote.Do(ctx, s.Timeout, "phrases.add_delta", func(ctx context.Context) error {
		if _, err := s.DB.ExecContext(ctx, query, d.Region, d.Phrase, d.Category, d.Weight); err != nil {
			return fmt.Errorf("add phrase delta: %w", err)
		}
		return nil
	})
}

// Top returns the region's top phrases with their cross-region totals.
func (s *PGStore) Top(ctx context.Context, region string, limit int) ([]Count, error) {
	if limit <= 0 {
		return nil, nil
	}
	if regions.IsGlobal(region) {
		const query = `
SELECT phrase, category, SUM(hit_count)::BIGINT AS hits
FROM phrase_counts
GROUP BY phrase, category
ORDER BY hits DESC, phrase ASC, category ASC
LIMIT $1`
		return remote.Get(ctx, s.Timeout, "phrases.top_global", func(ctx context.Context) ([]Count, error) {
			rows, err := s.DB.QueryContext(ctx, query, limit)
			if err != nil {
				return nil, fmt.Errorf("query global top phrases: %w", err)
			}
			defer rows.Close()
			var out []Count
			for rows.Next() {
				var c Count
				if err := rows.Scan(&c.Phrase, &c.Category, &c.Hits); err != nil {
					return nil, fmt.Errorf("scan phrase count: %w", err)
				}
				c.GlobalHits = c.Hits
				out = append(out, c)
			}
			return out, rows.Err()
		})
	}

	const query = `
SELECT phrase, category, hit_count, global_hits
FROM (
	SELECT region, phrase, category, hit_count,
	       SUM(hit_count) OVER (PARTITION BY phrase, category)::BIGINT AS global_hits
	FROM phrase_counts
) ranked
WHERE region = $1
ORDER BY hit_count DESC, phrase ASC, category ASC
LIMIT $2`
	return remote.Get(ctx, s.Timeout, "phrases.top_region", func(ctx context.Context) ([]Count, error) {
		rows, err := s.DB.QueryContext(ctx, query, region, limit)
		if err != nil {
			return nil, fmt.Errorf("query regional top phrases: %w", err)
		}
		defer rows.Close()
		var out []Count
		for rows.Next() {
			var c Count
			if err := rows.Scan(&c.Phrase, &c.Category, &c.Hits, &c.GlobalHits); err != nil {
				return nil, fmt.Errorf("scan phrase count: %w", err)
			}
			out = append(out, c)
		}
		return out, rows.Err()
	})
}

// Totals returns the hit totals used as signature denominators.
func (s *PGStore) Totals(ctx context.Context, region string) (int64, int64, error) {
	const query = `
SELECT COALESCE(SUM(hit_count) FILTER (WHERE region = $1), 0)::BIGINT,
       COALESCE(SUM(hit_count), 0)::BIGINT
FROM phrase_counts`
	type totals struct{ region, global int64 }
	t, err := remote.Get(ctx, s.Timeout, "phrases.totals", func(ctx context.Context) (totals, error) {
		var t totals
		if err := s.DB.QueryRowContext(ctx, query, region).Scan(&t.region, &t.global); err != nil {
			return totals{}, fmt.Errorf("query phrase totals: %w", err)
		}
		return t, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if regions.IsGlobal(region) {
		t.region = t.global
	}
	return t.region, t.global, nil
}

var _ Store = (*PGStore)(nil)
