package stats

import (
	"time"

	"vibe-backend/internal/rank"
)

// CacheKey is the single shared cache entry holding the global summary.
const CacheKey = "stats:global"

// Source records which path produced a summary.
const (
	SourceIncremental = "incremental"
	SourceRecompute   = "recompute"
)

// Counters are the averaged per-user counters.
type Counters struct {
	Messages float64 `json:"messages"`
	Chars    float64 `json:"chars"`
	WorkDays float64 `json:"workDays"`
}

// Summary is the global aggregate every rank is computed against.
type Summary struct {
	TotalUsers    int64           `json:"totalUsers"`
	AvgDimensions rank.Dimensions `json:"avgDimensions"`
	AvgCounters   Counters        `json:"avgCounters"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Source        string          `json:"source"`
}

// IsEmpty reports whether no contribution has been folded in yet.
func (s Summary) IsEmpty() bool {
	return s.TotalUsers <= 0
}

// Contribution is one user's values folded into the summary.
type Contribution struct {
	Dimensions rank.Dimensions
	Counters   Counters
}

// Apply folds c into s as an exact incremental mean:
// avg' = avg*n/(n+1) + v/(n+1). An empty summary is seeded from c with n = 1.
func Apply(s Summary, c Contribution, now time.Time) Summary {
	if s.IsEmpty() {
		return Summary{
			TotalUsers:    1,
			AvgDimensions: c.Dimensions,
			AvgCounters:   c.Counters,
			UpdatedAt:     now,
			Source:        SourceIncremental,
		}
	}
	n := float64(s.TotalUsers)
	next := n + 1
	mix := func(avg, v float64) float64 {
		return avg*(n/next) + v*(1/next)
	}
	return Summary{
		TotalUsers: s.TotalUsers + 1,
		AvgDimensions: rank.Dimensions{
			L: mix(s.AvgDimensions.L, c.Dimensions.L),
			P: mix(s.AvgDimensions.P, c.Dimensions.P),
			D: mix(s.AvgDimensions.D, c.Dimensions.D),
			E: mix(s.AvgDimensions.E, c.Dimensions.E),
			F: mix(s.AvgDimensions.F, c.Dimensions.F),
		},
		AvgCounters: Counters{
			Messages: mix(s.AvgCounters.Messages, c.Counters.Messages),
			Chars:    mix(s.AvgCounters.Chars, c.Counters.Chars),
			WorkDays: mix(s.AvgCounters.WorkDays, c.Counters.WorkDays),
		},
		UpdatedAt: now,
		Source:    SourceIncremental,
	}
}
