package phrases

import (
	"context"
	"fmt"
	"time"

	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/cache"
	"vibe-backend/internal/shared/telemetry"
)

// SnapshotKeyPrefix prefixes the cache key of each region's top-N list.
const SnapshotKeyPrefix = "phrases:top:"

// SnapshotKey returns the cache key for region.
func SnapshotKey(region string) string {
	return SnapshotKeyPrefix + regions.Normalize(region)
}

// Snapshots builds and serves cached top-N lists annotated with the
// regional signature verdict.
type Snapshots struct {
	Store Store
	Cache cache.Cache
	TopN  int
	TTL   time.Duration

	now func() time.Time
}

// NewSnapshots constructs a Snapshots service.
func NewSnapshots(store Store, c cache.Cache, topN int, ttl time.Duration) *Snapshots {
	if topN <= 0 {
		topN = 20
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Snapshots{
		Store: store,
		Cache: c,
		TopN:  topN,
		TTL:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Build reads region's top-N from the store and writes it to the cache.
// A failed cache write is logged; the snapshot is still returned.
func (s *Snapshots) Build(ctx context.Context, region string) (Snapshot, error) {
	region = regions.Normalize(region)
	counts, err := s.Store.Top(ctx, region, s.TopN)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load top phrases for %s: %w", region, err)
	}
	regionTotal, globalTotal, err := s.Store.Totals(ctx, region)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load phrase totals for %s: %w", region, err)
	}

	snap := Snapshot{Region: region, Entries: make([]Entry, 0, len(counts)), GeneratedAt: s.now()}
	global := regions.IsGlobal(region)
	for _, c := range counts {
		e := Entry{Phrase: c.Phrase, Category: c.Category, Hits: c.Hits}
		if !global {
			e.Signature = regions.DetectSignature(regions.Frequency{
				RegionCount: c.Hits,
				RegionTotal: regionTotal,
				GlobalCount: c.GlobalHits,
				GlobalTotal: globalTotal,
			})
		}
		snap.Entries = append(snap.Entries, e)
	}

	if err := cache.SetJSON(ctx, s.Cache, SnapshotKey(region), snap, s.TTL); err != nil {
		telemetry.Warn("phrases.snapshot_cache_failed", map[string]any{"region": region, "error": err.Error()})
	}
	return snap, nil
}

// Read serves region's snapshot from the cache, building it on a miss.
// limit trims the entries; a non-positive limit returns them all.
func (s *Snapshots) Read(ctx context.Context, region string, limit int) (Snapshot, error) {
	region = regions.Normalize(region)
	var snap Snapshot
	ok, err := cache.GetJSON(ctx, s.Cache, SnapshotKey(region), &snap)
	if err != nil {
		telemetry.Warn("phrases.snapshot_read_failed", map[string]any{"region": region, "error": err.Error()})
	}
	if !ok || err != nil {
		snap, err = s.Build(ctx, region)
		if err != nil {
			return Snapshot{}, err
		}
	}
	if limit > 0 && len(snap.Entries) > limit {
		snap.Entries = snap.Entries[:limit]
	}
	return snap, nil
}
