// Package remote bounds calls to the backing store and the shared cache.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout applies when a caller passes a non-positive bound.
const DefaultTimeout = 3 * time.Second

// ErrTimeout is returned when a remote call exceeds its bound.
var ErrTimeout = errors.New("remote call timed out")

// Do runs fn under a context bounded by timeout. A deadline hit is reported
// as ErrTimeout so callers treat it as failed rather than hung.
func Do(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := bound(ctx, timeout)
	defer cancel()
	err := fn(callCtx)
	return classify(callCtx, op, err)
}

// Get is Do for calls that return a value.
func Get[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := bound(ctx, timeout)
	defer cancel()
	val, err := fn(callCtx)
	return val, classify(callCtx, op, err)
}

// IsTimeout reports whether err came from an exceeded bound.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func classify(callCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return err
}
