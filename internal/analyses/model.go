// Package analyses accepts scored analysis submissions, attributes them to a
// durable record and ranks them against the global summary.
package analyses

import (
	"vibe-backend/internal/identity"
	"vibe-backend/internal/phrases"
	"vibe-backend/internal/rank"
	"vibe-backend/internal/records"
	"vibe-backend/internal/stats"
)

// Submission is the scoring collaborator's output plus identity signals.
type Submission struct {
	AccountID   string
	AccountName string
	Fingerprint string
	Username    string
	ClaimToken  string
	Messages    []string

	Scores          records.Scores
	TotalMessages   int64
	TotalChars      int64
	WorkDays        int
	Tallies         map[string]int64
	Phrases         []phrases.Delta
	PersonalityType *string
	CountryCode     *string
	Latitude        *float64
	Longitude       *float64
}

// CounterRanks are percentiles of the submitted counters.
type CounterRanks struct {
	Messages int `json:"messages"`
	Chars    int `json:"chars"`
	WorkDays int `json:"workDays"`
}

// Result is what a submission returns to the caller.
type Result struct {
	Record       records.Record
	Strategy     identity.Strategy
	Created      bool
	Ranks        rank.DimensionRanks
	CounterRanks CounterRanks
	Summary      stats.Summary
	// ClaimToken is set only for anonymous callers.
	ClaimToken string
}
