package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// LocalCache is an in-process cache used when no shared cache is configured.
// Entries are visible only to the instance that wrote them.
type LocalCache struct {
	store *ristretto.Cache[string, []byte]
}

// NewLocal constructs a LocalCache bounded to maxBytes of values.
func NewLocal(maxBytes int64) (*LocalCache, error) {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &LocalCache{store: store}, nil
}

func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	val, ok := l.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

func (l *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.store.SetWithTTL(key, value, int64(len(value))+1, ttl)
	// Make the write visible to the next Get on this instance.
	l.store.Wait()
	return nil
}

func (l *LocalCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.store.Del(key)
	return nil
}

// Close stops the cache's background goroutines.
func (l *LocalCache) Close() {
	l.store.Close()
}
