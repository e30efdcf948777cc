package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vibe-backend/internal/identity"
	"vibe-backend/internal/phrases"
	"vibe-backend/internal/rank"
	"vibe-backend/internal/records"
	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/background"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/telemetry"
	"vibe-backend/internal/shared/util"
	"vibe-backend/internal/stats"
)

// Service handles analysis submissions.
type Service struct {
	Repo     records.Repo
	Resolver *identity.Resolver
	Stats    *stats.Aggregator
	Phrases  *phrases.Aggregator
	Runner   *background.Runner

	newID func() string
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(repo records.Repo, resolver *identity.Resolver, agg *stats.Aggregator, buf *phrases.Aggregator, runner *background.Runner) *Service {
	return &Service{
		Repo:     repo,
		Resolver: resolver,
		Stats:    agg,
		Phrases:  buf,
		Runner:   runner,
		newID:    func() string { return uuid.NewString() },
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit attributes sub to a record, persists it, schedules the statistics
// and phrase updates in the background and ranks it against the summary.
// Background failures never fail the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	start := time.Now()
	if err := validate(&sub); err != nil {
		return Result{}, err
	}

	match, err := s.resolve(ctx, sub)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolve identity: %w", ErrUnavailable, err)
	}

	rec, created, err := s.persist(ctx, sub, match)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	out := Result{Record: rec, Strategy: match.Strategy, Created: created}
	if sub.AccountID == "" && rec.Kind == records.KindFingerprint && rec.ClaimToken != nil {
		out.ClaimToken = *rec.ClaimToken
	}

	contribution := contributionOf(rec)
	counted := created && rec.CountsTowardStats()
	out.Summary = s.summary(ctx, contribution, counted)
	if counted && s.Stats != nil {
		s.background(ctx, "stats.update", func(ctx context.Context) error {
			return s.Stats.Update(ctx, contribution)
		})
	}
	if s.Phrases != nil && len(sub.Phrases) > 0 {
		s.Phrases.Append(ctx, sub.Phrases, regionOf(rec))
	}

	out.Ranks = rank.ForDimensions(contribution.Dimensions, out.Summary.AvgDimensions, out.Summary.TotalUsers)
	out.CounterRanks = CounterRanks{
		Messages: rank.Percentile(contribution.Counters.Messages, out.Summary.AvgCounters.Messages, out.Summary.TotalUsers),
		Chars:    rank.Percentile(contribution.Counters.Chars, out.Summary.AvgCounters.Chars, out.Summary.TotalUsers),
		WorkDays: rank.Percentile(contribution.Counters.WorkDays, out.Summary.AvgCounters.WorkDays, out.Summary.TotalUsers),
	}

	metrics.IncSubmission(string(rec.Kind))
	metrics.ObserveSubmissionDuration(time.Since(start))
	telemetry.Info("analysis.submitted", map[string]any{
		"request_id":    background.RequestIDFromContext(ctx),
		"record_id":     rec.ID,
		"identity_kind": string(rec.Kind),
		"strategy":      string(match.Strategy),
		"created":       created,
		"phrases":       len(sub.Phrases),
	})
	return out, nil
}

// resolve runs the resolver; a token that is already consumed is ignored so
// the submission still lands on the caller's own record.
func (s *Service) resolve(ctx context.Context, sub Submission) (identity.Match, error) {
	q := identity.Query{
		AccountID:   sub.AccountID,
		Fingerprint: sub.Fingerprint,
		Username:    sub.Username,
		ClaimToken:  sub.ClaimToken,
	}
	match, err := s.Resolver.Resolve(ctx, q)
	if errors.Is(err, identity.ErrAlreadyConsumed) {
		telemetry.Warn("analysis.claim_token_consumed", map[string]any{
			"request_id": background.RequestIDFromContext(ctx),
		})
		q.ClaimToken = ""
		match, err = s.Resolver.Resolve(ctx, q)
	}
	if err != nil {
		return identity.Match{}, err
	}
	// An authenticated caller only ever writes to its own github record;
	// anonymous history reaches it through a claim.
	if sub.AccountID != "" && match.Strategy != identity.StrategyAccount {
		return identity.Match{}, nil
	}
	return match, nil
}

func (s *Service) persist(ctx context.Context, sub Submission, match identity.Match) (records.Record, bool, error) {
	if match.Found {
		rec := overlay(match.Record, sub)
		if sub.AccountID == "" && rec.Kind == records.KindFingerprint && rec.ClaimToken == nil {
			token := s.newID()
			rec.ClaimToken = &token
		}
		saved, err := s.Repo.Upsert(ctx, rec)
		if err != nil {
			return records.Record{}, false, fmt.Errorf("update record %s: %w", rec.ID, err)
		}
		return saved, false, nil
	}

	if sub.AccountID != "" {
		rec := overlay(records.Record{ID: sub.AccountID, Kind: records.KindGitHub}, sub)
		if rec.DisplayName == nil && sub.AccountName != "" {
			name := sub.AccountName
			rec.DisplayName = &name
		}
		saved, err := s.Repo.Upsert(ctx, rec)
		if err != nil {
			return records.Record{}, false, fmt.Errorf("create account record: %w", err)
		}
		return saved, true, nil
	}

	id := s.newID()
	token := s.newID()
	rec := overlay(records.Record{
		ID:          id,
		Fingerprint: sub.Fingerprint,
		Kind:        records.KindFingerprint,
		ClaimToken:  &token,
	}, sub)
	saved, err := s.Repo.UpsertByFingerprint(ctx, rec)
	if err != nil {
		return records.Record{}, false, fmt.Errorf("create anonymous record: %w", err)
	}
	// A concurrent submission with the same fingerprint may have won the insert.
	return saved, saved.ID == id, nil
}

// overlay writes the submitted values onto rec: scores and counters are
// overwritten, work_days never decreases, optional fields only when present.
func overlay(rec records.Record, sub Submission) records.Record {
	rec.Scores = sub.Scores
	rec.TotalMessages = sub.TotalMessages
	rec.TotalChars = sub.TotalChars
	if sub.WorkDays > rec.WorkDays {
		rec.WorkDays = sub.WorkDays
	}
	if sub.Tallies != nil {
		rec.Tallies = sub.Tallies
	}
	if name := strings.TrimSpace(sub.Username); name != "" {
		rec.DisplayName = &name
	}
	if sub.PersonalityType != nil {
		rec.PersonalityType = sub.PersonalityType
	}
	if sub.CountryCode != nil {
		region := regions.Normalize(*sub.CountryCode)
		rec.CountryCode = &region
	}
	if sub.Latitude != nil {
		rec.Latitude = sub.Latitude
	}
	if sub.Longitude != nil {
		rec.Longitude = sub.Longitude
	}
	return rec
}

// summary reads the global summary for ranking. A new record's own
// contribution is folded in locally; the shared update runs afterwards.
// An unavailable summary ranks everyone at the neutral percentile.
func (s *Service) summary(ctx context.Context, c stats.Contribution, include bool) stats.Summary {
	if s.Stats == nil {
		return stats.Summary{}
	}
	sum, err := s.Stats.Read(ctx)
	if err != nil {
		telemetry.Warn("analysis.stats_unavailable", map[string]any{
			"request_id": background.RequestIDFromContext(ctx),
			"error":      err.Error(),
		})
		return stats.Summary{}
	}
	if include {
		sum = stats.Apply(sum, c, s.now())
	}
	return sum
}

func (s *Service) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if s.Runner == nil {
		if err := fn(ctx); err != nil {
			telemetry.Warn("background.task_failed", map[string]any{"task": name, "error": err.Error()})
		}
		return
	}
	s.Runner.Go(ctx, name, fn)
}

func validate(sub *Submission) error {
	sub.AccountID = strings.TrimSpace(sub.AccountID)
	sub.Fingerprint = strings.TrimSpace(sub.Fingerprint)
	sub.ClaimToken = strings.TrimSpace(sub.ClaimToken)
	if sub.TotalMessages < 0 || sub.TotalChars < 0 || sub.WorkDays < 0 {
		return fmt.Errorf("%w: counters must be non-negative", ErrInvalidSubmission)
	}
	for k, v := range sub.Tallies {
		if v < 0 {
			return fmt.Errorf("%w: tally %q must be non-negative", ErrInvalidSubmission, k)
		}
	}
	sub.Scores = sub.Scores.Clamp()
	if sub.Fingerprint == "" && sub.AccountID == "" {
		sub.Fingerprint = util.DeriveFingerprint(sub.Messages)
		if sub.Fingerprint == "" {
			sub.Fingerprint = util.CounterFingerprint(sub.Scores, sub.TotalMessages, sub.TotalChars)
		}
	}
	return nil
}

func contributionOf(rec records.Record) stats.Contribution {
	return stats.Contribution{
		Dimensions: rank.Dimensions{L: rec.Scores.L, P: rec.Scores.P, D: rec.Scores.D, E: rec.Scores.E, F: rec.Scores.F},
		Counters: stats.Counters{
			Messages: float64(rec.TotalMessages),
			Chars:    float64(rec.TotalChars),
			WorkDays: float64(rec.WorkDays),
		},
	}
}

func regionOf(rec records.Record) string {
	if rec.CountryCode == nil {
		return regions.Global
	}
	return regions.Normalize(*rec.CountryCode)
}
