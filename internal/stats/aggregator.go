// Package stats maintains the cached global summary: a fast incremental mean
// updated per contribution and a periodic exact recompute from the store.
package stats

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"vibe-backend/internal/shared/cache"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/telemetry"
)

// Aggregator owns the cached summary. The incremental path is a
// read-modify-write with no lock across instances, so it may lose updates
// under concurrency; Recompute is the source of truth that corrects drift.
type Aggregator struct {
	Cache cache.Cache
	View  View
	TTL   time.Duration

	group singleflight.Group
	now   func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(c cache.Cache, view View, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Aggregator{
		Cache: c,
		View:  view,
		TTL:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Update folds one contribution into the cached summary. On a cache miss the
// summary is rebuilt from the view first; an empty view seeds from c.
func (a *Aggregator) Update(ctx context.Context, c Contribution) error {
	current, hit := a.cached(ctx)
	if !hit {
		loaded, err := a.load(ctx)
		if err != nil {
			telemetry.Warn("stats.view_unavailable", map[string]any{"error": err.Error()})
		} else {
			current = loaded
		}
	}
	next := Apply(current, c, a.now())
	if err := cache.SetJSON(ctx, a.Cache, CacheKey, next, a.TTL); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Read serves the cached summary. On a miss or expiry it rebuilds from the
// view; concurrent misses on one instance share a single rebuild.
func (a *Aggregator) Read(ctx context.Context) (Summary, error) {
	if s, hit := a.cached(ctx); hit {
		return s, nil
	}
	return a.rebuild(ctx, "stats.read", false)
}

// Recompute refreshes the view and rewrites the cached summary from it.
func (a *Aggregator) Recompute(ctx context.Context) (Summary, error) {
	return a.rebuild(ctx, "stats.recompute", true)
}

func (a *Aggregator) rebuild(ctx context.Context, key string, refresh bool) (Summary, error) {
	v, err, _ := a.group.Do(key, func() (any, error) {
		if refresh {
			if err := a.View.Refresh(ctx); err != nil {
				metrics.IncStatsRecompute("error")
				return Summary{}, fmt.Errorf("refresh view: %w", err)
			}
		}
		s, err := a.load(ctx)
		if err != nil {
			metrics.IncStatsRecompute("error")
			return Summary{}, err
		}
		metrics.IncStatsRecompute("ok")
		if err := cache.SetJSON(ctx, a.Cache, CacheKey, s, a.TTL); err != nil {
			telemetry.Warn("stats.cache_write_failed", map[string]any{"error": err.Error()})
		}
		return s, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (a *Aggregator) load(ctx context.Context) (Summary, error) {
	if a.View == nil {
		return Summary{}, nil
	}
	s, err := a.View.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load view: %w", err)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = a.now()
	}
	s.Source = SourceRecompute
	return s, nil
}

// cached returns the cached summary. Cache errors count as a miss.
func (a *Aggregator) cached(ctx context.Context) (Summary, bool) {
	var s Summary
	ok, err := cache.GetJSON(ctx, a.Cache, CacheKey, &s)
	if err != nil {
		telemetry.Warn("stats.cache_read_failed", map[string]any{"error": err.Error()})
		return Summary{}, false
	}
	return s, ok
}
