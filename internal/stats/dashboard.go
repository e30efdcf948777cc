package stats

import (
	"context"
	"fmt"
	"time"

	"vibe-backend/internal/rank"
	"vibe-backend/internal/records"
	"vibe-backend/internal/shared/cache"
	"vibe-backend/internal/shared/telemetry"
)

// DashboardKey is the cache entry holding the assembled dashboard.
const DashboardKey = "stats:dashboard"

const (
	defaultDashboardLocations = 10
	defaultDashboardRecent    = 5
	defaultDashboardTTL       = time.Minute
)

// ActivitySource reads the per-record parts of the dashboard.
type ActivitySource interface {
	LocationCounts(ctx context.Context, limit int) ([]records.LocationCount, error)
	Recent(ctx context.Context, limit int) ([]records.Activity, error)
}

// Dashboard is the public overview: population, averages, where users are
// and what was submitted last.
type Dashboard struct {
	TotalUsers  int64                   `json:"totalUsers"`
	Averages    rank.Dimensions         `json:"averages"`
	Counters    Counters                `json:"counters"`
	Locations   []records.LocationCount `json:"locations"`
	Recent      []records.Activity      `json:"recent"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

// Dashboards assembles and caches the dashboard.
type Dashboards struct {
	Agg       *Aggregator
	Source    ActivitySource
	Cache     cache.Cache
	TTL       time.Duration
	Locations int
	Recent    int

	now func() time.Time
}

// NewDashboards constructs a Dashboards service.
func NewDashboards(agg *Aggregator, source ActivitySource, c cache.Cache, ttl time.Duration) *Dashboards {
	if ttl <= 0 {
		ttl = defaultDashboardTTL
	}
	return &Dashboards{
		Agg:       agg,
		Source:    source,
		Cache:     c,
		TTL:       ttl,
		Locations: defaultDashboardLocations,
		Recent:    defaultDashboardRecent,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Read serves the cached dashboard, building it on a miss.
func (d *Dashboards) Read(ctx context.Context) (Dashboard, error) {
	var dash Dashboard
	ok, err := cache.GetJSON(ctx, d.Cache, DashboardKey, &dash)
	if err != nil {
		telemetry.Warn("stats.dashboard_read_failed", map[string]any{"error": err.Error()})
	}
	if ok && err == nil {
		return dash, nil
	}
	return d.Build(ctx)
}

// Build assembles the dashboard. The summary is required; location and
// recent-activity failures leave those lists empty and skip the cache write
// so the next read retries them.
func (d *Dashboards) Build(ctx context.Context) (Dashboard, error) {
	summary, err := d.Agg.Read(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("read summary: %w", err)
	}
	dash := Dashboard{
		TotalUsers:  summary.TotalUsers,
		Averages:    summary.AvgDimensions,
		Counters:    summary.AvgCounters,
		Locations:   []records.LocationCount{},
		Recent:      []records.Activity{},
		GeneratedAt: d.now(),
	}

	complete := true
	if d.Source != nil {
		if locations, err := d.Source.LocationCounts(ctx, d.Locations); err != nil {
			complete = false
			telemetry.Warn("stats.dashboard_locations_failed", map[string]any{"error": err.Error()})
		} else {
			dash.Locations = locations
		}
		if recent, err := d.Source.Recent(ctx, d.Recent); err != nil {
			complete = false
			telemetry.Warn("stats.dashboard_recent_failed", map[string]any{"error": err.Error()})
		} else {
			dash.Recent = recent
		}
	}

	if complete {
		if err := cache.SetJSON(ctx, d.Cache, DashboardKey, dash, d.TTL); err != nil {
			telemetry.Warn("stats.dashboard_cache_failed", map[string]any{"error": err.Error()})
		}
	}
	return dash, nil
}
