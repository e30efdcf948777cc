package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"vibe-backend/internal/rank"
	"vibe-backend/internal/records"
	"vibe-backend/internal/shared/cache"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fixedView struct {
	summary   Summary
	err       error
	refreshes int
}

func (v *fixedView) Load(ctx context.Context) (Summary, error) { return v.summary, v.err }
func (v *fixedView) Refresh(ctx context.Context) error {
	v.refreshes++
	return v.err
}

func contribution(l, msgs float64) Contribution {
	return Contribution{
		Dimensions: rank.Dimensions{L: l, P: l / 2, D: 100 - l, E: 10, F: l},
		Counters:   Counters{Messages: msgs, Chars: msgs * 30, WorkDays: 2},
	}
}

func TestApplyMatchesArithmeticMean(t *testing.T) {
	inputs := []Contribution{
		contribution(80, 40), contribution(10, 5), contribution(55, 300),
		contribution(0, 1), contribution(99, 12), contribution(42, 42),
	}
	var s Summary
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	var sumL, sumD, sumMsgs float64
	for i, c := range inputs {
		s = Apply(s, c, now)
		sumL += c.Dimensions.L
		sumD += c.Dimensions.D
		sumMsgs += c.Counters.Messages
		n := float64(i + 1)
		require.Equal(t, int64(i+1), s.TotalUsers)
		require.InDelta(t, sumL/n, s.AvgDimensions.L, 1e-9)
		require.InDelta(t, sumD/n, s.AvgDimensions.D, 1e-9)
		require.InDelta(t, sumMsgs/n, s.AvgCounters.Messages, 1e-9)
	}
}

func TestApplySeedsFirstContribution(t *testing.T) {
	s := Apply(Summary{}, contribution(70, 20), time.Now())
	require.Equal(t, int64(1), s.TotalUsers)
	require.Equal(t, 70.0, s.AvgDimensions.L)
	require.Equal(t, 20.0, s.AvgCounters.Messages)
}

func TestAggregatorUpdateThenRead(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(newMapCache(), &fixedView{}, time.Hour)

	require.NoError(t, agg.Update(ctx, contribution(80, 40)))
	require.NoError(t, agg.Update(ctx, contribution(20, 10)))

	s, err := agg.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), s.TotalUsers)
	require.InDelta(t, 50, s.AvgDimensions.L, 1e-9)
	require.InDelta(t, 25, s.AvgCounters.Messages, 1e-9)
	require.Equal(t, SourceIncremental, s.Source)
}

func TestAggregatorUpdateMissStartsFromView(t *testing.T) {
	ctx := context.Background()
	view := &fixedView{summary: Summary{TotalUsers: 3, AvgDimensions: rank.Dimensions{L: 40}}}
	agg := NewAggregator(newMapCache(), view, time.Hour)

	require.NoError(t, agg.Update(ctx, Contribution{Dimensions: rank.Dimensions{L: 80}}))
	s, err := agg.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), s.TotalUsers)
	require.InDelta(t, 50, s.AvgDimensions.L, 1e-9)
}

func TestAggregatorReadMissRebuildsFromView(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	view := &fixedView{summary: Summary{TotalUsers: 9, AvgDimensions: rank.Dimensions{L: 33}}}
	agg := NewAggregator(c, view, time.Hour)

	s, err := agg.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9), s.TotalUsers)
	require.Equal(t, SourceRecompute, s.Source)
	require.Zero(t, view.refreshes, "a read miss does not rematerialize the view")

	var cached Summary
	ok, err := cache.GetJSON(ctx, c, CacheKey, &cached)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), cached.TotalUsers)
}

func TestAggregatorCacheFailureFallsBackToView(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	c.err = errors.New("cache down")
	agg := NewAggregator(c, &fixedView{summary: Summary{TotalUsers: 2}}, time.Hour)

	s, err := agg.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), s.TotalUsers)

	require.Error(t, agg.Update(ctx, contribution(1, 1)), "update reports the failed write for the caller to log")
}

func TestAggregatorRecomputeCorrectsDrift(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	for i, msgs := range []int64{10, 20, 30} {
		_, err := repo.Upsert(ctx, records.Record{ID: string(rune('a' + i)), TotalMessages: msgs, Scores: records.Scores{L: float64(msgs)}})
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, records.Record{ID: "retired", Kind: records.KindMigrated, TotalMessages: 999})
	require.NoError(t, err)

	view := NewMemoryView(repo)
	agg := NewAggregator(newMapCache(), view, time.Hour)

	// Drifted incremental value.
	require.NoError(t, agg.Update(ctx, contribution(99, 999)))

	s, err := agg.Recompute(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), s.TotalUsers)
	require.InDelta(t, 20, s.AvgDimensions.L, 1e-9)
	require.InDelta(t, 20, s.AvgCounters.Messages, 1e-9)

	read, err := agg.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, s.TotalUsers, read.TotalUsers)
}

func TestAggregatorWithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis("redis://"+mr.Addr(), time.Second)
	require.NoError(t, err)
	defer rc.Close()

	agg := NewAggregator(rc, &fixedView{}, time.Minute)
	require.NoError(t, agg.Update(ctx, contribution(60, 6)))
	require.True(t, mr.Exists(CacheKey))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(CacheKey), "summary expires after its TTL")
}

func TestPGViewLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	refreshed := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM global_stats_view").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_users", "avg_l", "avg_p", "avg_d", "avg_e", "avg_f", "avg_messages", "avg_chars", "avg_work_days", "refreshed_at",
		}).AddRow(int64(12), 50.0, 40.0, 30.0, 20.0, 10.0, 100.0, 3000.0, 4.0, refreshed))
	mock.ExpectExec("REFRESH MATERIALIZED VIEW CONCURRENTLY global_stats_view").
		WillReturnResult(sqlmock.NewResult(0, 0))

	view := &PGView{DB: db, Timeout: time.Second}
	s, err := view.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12), s.TotalUsers)
	require.Equal(t, 50.0, s.AvgDimensions.L)
	require.Equal(t, 4.0, s.AvgCounters.WorkDays)
	require.Equal(t, refreshed, s.UpdatedAt)

	require.NoError(t, view.Refresh(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
