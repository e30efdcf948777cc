package phrases

import (
	"context"
	"sync"
	"time"

	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/background"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/telemetry"
)

const (
	DefaultMaxItems    = 50
	DefaultMaxInterval = 30 * time.Second
)

// Aggregator is this instance's phrase buffer. Each instance flushes on its
// own; the additive store write makes any interleaving of flushes converge.
type Aggregator struct {
	Sink        Sink
	Runner      *background.Runner
	MaxItems    int
	MaxInterval time.Duration

	mu        sync.Mutex
	pending   []Delta
	lastFlush time.Time
	now       func() time.Time
}

// NewAggregator constructs an Aggregator. With a nil runner, flushes run
// inline on the caller's goroutine.
func NewAggregator(sink Sink, runner *background.Runner, maxItems int, maxInterval time.Duration) *Aggregator {
	return newAggregator(sink, runner, maxItems, maxInterval, time.Now)
}

func newAggregator(sink Sink, runner *background.Runner, maxItems int, maxInterval time.Duration, now func() time.Time) *Aggregator {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	return &Aggregator{
		Sink:        sink,
		Runner:      runner,
		MaxItems:    maxItems,
		MaxInterval: maxInterval,
		lastFlush:   now(),
		now:         now,
	}
}

// Append buffers deltas under the normalized region and reports whether the
// call triggered a flush. The flush itself runs in the background and may
// outlive the request.
func (a *Aggregator) Append(ctx context.Context, deltas []Delta, region string) bool {
	items := clean(deltas, regions.Normalize(region))

	a.mu.Lock()
	a.pending = append(a.pending, items...)
	now := a.now()
	due := len(a.pending) >= a.MaxItems || now.Sub(a.lastFlush) >= a.MaxInterval
	var drained []Delta
	if due {
		drained = a.drainLocked(now)
	}
	buffered := len(a.pending)
	a.mu.Unlock()

	metrics.SetPhraseBufferedItems(buffered)
	if len(drained) == 0 {
		return false
	}
	a.dispatch(ctx, drained)
	return true
}

// Flush drains the buffer and delivers it synchronously. Used on shutdown.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	drained := a.drainLocked(a.now())
	a.mu.Unlock()
	metrics.SetPhraseBufferedItems(0)
	return a.deliver(ctx, drained)
}

// Buffered returns the number of deltas waiting for the next flush.
func (a *Aggregator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) drainLocked(now time.Time) []Delta {
	drained := a.pending
	a.pending = nil
	a.lastFlush = now
	return drained
}

func (a *Aggregator) dispatch(ctx context.Context, drained []Delta) {
	if len(drained) == 0 {
		return
	}
	if a.Runner == nil {
		_ = a.deliver(ctx, drained)
		return
	}
	a.Runner.Go(ctx, "phrases.flush", func(ctx context.Context) error {
		return a.deliver(ctx, drained)
	})
}

func (a *Aggregator) deliver(ctx context.Context, drained []Delta) error {
	if len(drained) == 0 || a.Sink == nil {
		return nil
	}
	groups := Group(drained)
	metrics.IncPhraseFlush()
	start := time.Now()
	err := a.Sink.Deliver(ctx, groups)
	fields := map[string]any{
		"items":       len(drained),
		"groups":      len(groups),
		"duration_ms": time.Since(start).Milliseconds(),
		"request_id":  background.RequestIDFromContext(ctx),
	}
	if err != nil {
		fields["error"] = err.Error()
		telemetry.Warn("phrases.flush_partial", fields)
		return err
	}
	telemetry.Info("phrases.flushed", fields)
	return nil
}
