package phrases

import (
	"context"
	"sort"
	"sync"

	"vibe-backend/internal/regions"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	counts map[groupKey]int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[groupKey]int64)}
}

func (s *MemoryStore) AddDelta(ctx context.Context, d Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[groupKey{region: d.Region, phrase: d.Phrase, category: d.Category}] += d.Weight
	return nil
}

func (s *MemoryStore) Top(ctx context.Context, region string, limit int) ([]Count, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type pc struct{ phrase, category string }
	global := make(map[pc]int64)
	local := make(map[pc]int64)
	for k, n := range s.counts {
		key := pc{k.phrase, k.category}
		global[key] += n
		if k.region == region {
			local[key] += n
		}
	}
	source := local
	if regions.IsGlobal(region) {
		source = global
	}
	out := make([]Count, 0, len(source))
	for k, n := range source {
		out = append(out, Count{Phrase: k.phrase, Category: k.category, Hits: n, GlobalHits: global[k]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hits != out[j].Hits {
			return out[i].Hits > out[j].Hits
		}
		if out[i].Phrase != out[j].Phrase {
			return out[i].Phrase < out[j].Phrase
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Totals(ctx context.Context, region string) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var local, global int64
	for k, n := range s.counts {
		global += n
		if k.region == region {
			local += n
		}
	}
	if regions.IsGlobal(region) {
		local = global
	}
	return local, global, nil
}

var _ Store = (*MemoryStore)(nil)
