// Package phrases buffers per-submission phrase deltas and folds them into
// additive per-region counts.
package phrases

import (
	"sort"
	"strings"
	"time"

	"vibe-backend/internal/regions"
)

// Delta is one phrase increment. Only its aggregated effect is persisted.
type Delta struct {
	Phrase   string `json:"phrase"`
	Category string `json:"category"`
	Weight   int64  `json:"weight"`
	Region   string `json:"region,omitempty"`
}

// Count is a stored phrase total in one region together with its total
// across every region.
type Count struct {
	Phrase     string
	Category   string
	Hits       int64
	GlobalHits int64
}

// Entry is one row of a top-N snapshot.
type Entry struct {
	Phrase    string            `json:"phrase"`
	Category  string            `json:"category"`
	Hits      int64             `json:"hits"`
	Signature regions.Signature `json:"signature"`
}

// Snapshot is the cached top-N list for a region.
type Snapshot struct {
	Region      string    `json:"region"`
	Entries     []Entry   `json:"entries"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type groupKey struct {
	region   string
	phrase   string
	category string
}

// Group sums weights per (region, phrase, category). The result is sorted
// so repeated flushes of the same deltas issue writes in the same order.
func Group(deltas []Delta) []Delta {
	sums := make(map[groupKey]int64, len(deltas))
	for _, d := range deltas {
		sums[groupKey{region: d.Region, phrase: d.Phrase, category: d.Category}] += d.Weight
	}
	out := make([]Delta, 0, len(sums))
	for k, w := range sums {
		if w == 0 {
			continue
		}
		out = append(out, Delta{Region: k.region, Phrase: k.phrase, Category: k.category, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		if out[i].Phrase != out[j].Phrase {
			return out[i].Phrase < out[j].Phrase
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// clean trims text fields and drops deltas without a phrase or with a
// non-positive weight, stamping region on the rest.
func clean(deltas []Delta, region string) []Delta {
	out := make([]Delta, 0, len(deltas))
	for _, d := range deltas {
		d.Phrase = strings.TrimSpace(d.Phrase)
		d.Category = strings.TrimSpace(d.Category)
		if d.Phrase == "" || d.Weight <= 0 {
			continue
		}
		d.Region = region
		out = append(out, d)
	}
	return out
}
