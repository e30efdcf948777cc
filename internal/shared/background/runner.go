// Package background runs best-effort work triggered by a request so that its
// failure never reaches the response.
package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"vibe-backend/internal/shared/telemetry"
)

type requestIDKey struct{}

// WithRequestID attaches a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Runner launches detached tasks. Tasks outlive the request that started them
// but each is bounded by the runner timeout.
type Runner struct {
	Timeout time.Duration

	wg sync.WaitGroup
}

// NewRunner constructs a Runner.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Runner{Timeout: timeout}
}

// Go starts fn on a context detached from ctx's cancellation. Errors and panics
// are logged under name and otherwise dropped.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if r == nil {
		return
	}
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.Timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := run(taskCtx, fn); err != nil {
			telemetry.Error("background.task_failed", map[string]any{
				"task":       name,
				"request_id": RequestIDFromContext(taskCtx),
				"error":      err.Error(),
			})
		}
	}()
}

// Wait blocks until all started tasks return or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn(ctx)
}
