package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"vibe-backend/internal/shared/telemetry"
)

// Scheduler runs Recompute on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	agg     *Aggregator
	timeout time.Duration
}

// NewScheduler registers the recompute job under spec, e.g. "@every 1h" or "0 * * * *".
func NewScheduler(spec string, agg *Aggregator, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		agg:     agg,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule stats recompute %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	summary, err := s.agg.Recompute(ctx)
	if err != nil {
		telemetry.Error("stats.recompute_failed", map[string]any{"error": err.Error()})
		return
	}
	telemetry.Info("stats.recomputed", map[string]any{
		"total_users": summary.TotalUsers,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// cronLogger adapts telemetry to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	telemetry.Info("cron."+msg, kvFields(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = fmt.Sprint(err)
	telemetry.Error("cron."+msg, fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
