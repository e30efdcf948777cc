package records

import (
	"strings"
	"time"
)

// Kind tags how a record's owner is identified.
type Kind string

const (
	// KindFingerprint records are anonymous and may carry a claim token.
	KindFingerprint Kind = "fingerprint"
	// KindGitHub records are keyed by an authenticated account id.
	KindGitHub Kind = "github"
	// KindMigrated marks the retired source of a merge.
	KindMigrated Kind = "migrated"
)

// RetiredFingerprintPrefix starts the sentinel fingerprint of a retired record.
const RetiredFingerprintPrefix = "retired:"

// Scores are the five dimension scores, each in [0, 100].
type Scores struct {
	L float64 `json:"L"`
	P float64 `json:"P"`
	D float64 `json:"D"`
	E float64 `json:"E"`
	F float64 `json:"F"`
}

// IsZero reports whether every score is zero.
func (s Scores) IsZero() bool {
	return s == Scores{}
}

// Clamp bounds every score to [0, 100].
func (s Scores) Clamp() Scores {
	return Scores{L: clamp(s.L), P: clamp(s.P), D: clamp(s.D), E: clamp(s.E), F: clamp(s.F)}
}

// Record is one durable row per logical user.
type Record struct {
	ID              string
	Fingerprint     string
	Kind            Kind
	ClaimToken      *string
	DisplayName     *string
	Scores          Scores
	TotalMessages   int64
	TotalChars      int64
	WorkDays        int
	Tallies         map[string]int64
	PersonalityType *string
	CountryCode     *string
	Latitude        *float64
	Longitude       *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LocationCount is the number of live records in one region.
type LocationCount struct {
	Region string `json:"name"`
	Count  int64  `json:"count"`
}

// Activity is one recent submission as shown on the dashboard.
type Activity struct {
	At              time.Time `json:"time"`
	PersonalityType string    `json:"type"`
}

// UnknownPersonality labels recent activity without a personality type.
const UnknownPersonality = "UNKNOWN"

// HasActivity reports whether the record has ever received real counters.
func (r Record) HasActivity() bool {
	return r.TotalMessages > 0 || r.TotalChars > 0
}

// CountsTowardStats reports whether the record belongs in the global summary.
// global_stats_view applies the same filter.
func (r Record) CountsTowardStats() bool {
	return !r.IsRetired() && r.TotalMessages > 0
}

// IsRetired reports whether the record was the source of a completed merge.
func (r Record) IsRetired() bool {
	return r.Kind == KindMigrated
}

// NormalizeDisplayName trims and lower-cases a display name for lookups.
func NormalizeDisplayName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
