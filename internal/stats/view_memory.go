package stats

import (
	"context"
	"sync"
	"time"

	"vibe-backend/internal/records"
)

// RecordLister lists every stored record.
type RecordLister interface {
	All(ctx context.Context) ([]records.Record, error)
}

// MemoryView aggregates an in-memory record store with the same filter as
// global_stats_view. Load serves the last Refresh, like the materialized view.
type MemoryView struct {
	Records RecordLister

	mu       sync.RWMutex
	snapshot Summary
	now      func() time.Time
}

// NewMemoryView constructs a MemoryView.
func NewMemoryView(lister RecordLister) *MemoryView {
	return &MemoryView{Records: lister, now: func() time.Time { return time.Now().UTC() }}
}

func (v *MemoryView) Load(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshot, nil
}

func (v *MemoryView) Refresh(ctx context.Context) error {
	recs, err := v.Records.All(ctx)
	if err != nil {
		return err
	}
	var s Summary
	var n float64
	for _, rec := range recs {
		if !rec.CountsTowardStats() {
			continue
		}
		n++
		s.AvgDimensions.L += rec.Scores.L
		s.AvgDimensions.P += rec.Scores.P
		s.AvgDimensions.D += rec.Scores.D
		s.AvgDimensions.E += rec.Scores.E
		s.AvgDimensions.F += rec.Scores.F
		s.AvgCounters.Messages += float64(rec.TotalMessages)
		s.AvgCounters.Chars += float64(rec.TotalChars)
		s.AvgCounters.WorkDays += float64(rec.WorkDays)
	}
	if n > 0 {
		s.TotalUsers = int64(n)
		s.AvgDimensions.L /= n
		s.AvgDimensions.P /= n
		s.AvgDimensions.D /= n
		s.AvgDimensions.E /= n
		s.AvgDimensions.F /= n
		s.AvgCounters.Messages /= n
		s.AvgCounters.Chars /= n
		s.AvgCounters.WorkDays /= n
	}
	s.UpdatedAt = v.now()
	s.Source = SourceRecompute

	v.mu.Lock()
	v.snapshot = s
	v.mu.Unlock()
	return nil
}
