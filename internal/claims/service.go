// Package claims merges an anonymous record into an authenticated account
// exactly once per claim token.
package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vibe-backend/internal/identity"
	"vibe-backend/internal/records"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/telemetry"
)

// Service runs the claim state machine. Removing the claim token from the
// source is the commit point: only one claimant can win that write.
type Service struct {
	Repo     records.Repo
	Resolver *identity.Resolver
}

// NewService constructs a Service.
func NewService(repo records.Repo, resolver *identity.Resolver) *Service {
	return &Service{Repo: repo, Resolver: resolver}
}

// Claim redeems claimToken for accountID. Rejections and "nothing to migrate"
// are outcomes, not errors; an error means the claim should be retried.
func (s *Service) Claim(ctx context.Context, claimToken, accountID string) (Outcome, error) {
	claimToken = strings.TrimSpace(claimToken)
	accountID = strings.TrimSpace(accountID)
	out := Outcome{}
	out.enter(StateNotStarted)
	if claimToken == "" || accountID == "" {
		return out, ErrInvalidRequest
	}

	outcome, err := s.claim(ctx, &out, claimToken, accountID)
	fields := map[string]any{
		"account_id": accountID,
		"source_id":  outcome.SourceID,
		"state":      string(outcome.State),
		"reason":     string(outcome.Reason),
		"path":       string(outcome.Path),
	}
	if err != nil {
		fields["error"] = err.Error()
		telemetry.Error("claim.failed", fields)
		metrics.IncClaimOutcome("retryable")
		return outcome, err
	}
	telemetry.Info("claim.complete", fields)
	metrics.IncClaimOutcome(strings.ToLower(string(outcome.State)))
	return outcome, nil
}

func (s *Service) claim(ctx context.Context, out *Outcome, token, accountID string) (Outcome, error) {
	match, err := s.Resolver.Resolve(ctx, identity.Query{ClaimToken: token})
	switch {
	case errors.Is(err, identity.ErrAlreadyConsumed):
		return reject(out), nil
	case err != nil:
		return *out, retryable("resolve source", err)
	case !match.Found || match.Strategy != identity.StrategyClaimToken:
		return reject(out), nil
	}
	source := match.Record
	out.SourceID = source.ID
	if !source.HasActivity() {
		out.enter(StateNothingToMigrate)
		return *out, nil
	}
	out.enter(StateSourceVerified)

	target, exists, err := s.resolveTarget(ctx, accountID)
	if err != nil {
		return *out, retryable("resolve target", err)
	}
	out.enter(StateTargetResolved)

	if !exists {
		return s.rekey(ctx, out, source, token, accountID)
	}
	return s.merge(ctx, out, source, target, token)
}

// resolveTarget loads the account's record, deleting it first if it is a
// placeholder that never received activity.
func (s *Service) resolveTarget(ctx context.Context, accountID string) (records.Record, bool, error) {
	target, err := s.Repo.GetByID(ctx, accountID)
	if errors.Is(err, records.ErrNotFound) {
		return records.Record{}, false, nil
	}
	if err != nil {
		return records.Record{}, false, err
	}
	if target.HasActivity() {
		return target, true, nil
	}
	deleted, err := s.Repo.DeletePlaceholder(ctx, accountID)
	if err != nil {
		return records.Record{}, false, err
	}
	if !deleted {
		// Activity arrived between the read and the delete.
		target, err = s.Repo.GetByID(ctx, accountID)
		if err != nil {
			return records.Record{}, false, err
		}
		return target, true, nil
	}
	telemetry.Info("claim.placeholder_deleted", map[string]any{"account_id": accountID})
	return records.Record{}, false, nil
}

func (s *Service) rekey(ctx context.Context, out *Outcome, source records.Record, token, accountID string) (Outcome, error) {
	err := s.Repo.Rekey(ctx, source.ID, token, accountID)
	switch {
	case errors.Is(err, records.ErrTokenConsumed):
		return reject(out), nil
	case err != nil:
		return *out, retryable("rekey source", err)
	}
	out.Path = PathRekey
	out.enter(StateMerged)

	target, err := s.Repo.GetByID(ctx, accountID)
	if err != nil {
		target = source
		target.ID = accountID
		target.Kind = records.KindGitHub
		target.ClaimToken = nil
	}
	out.Target = target
	return *out, nil
}

func (s *Service) merge(ctx context.Context, out *Outcome, source, target records.Record, token string) (Outcome, error) {
	// Re-check immediately before the commit point.
	current, err := s.Repo.GetByClaimToken(ctx, token)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return reject(out), nil
	case err != nil:
		return *out, retryable("recheck token", err)
	case current.ID != source.ID || current.Kind != records.KindFingerprint:
		return reject(out), nil
	}
	source = current

	err = s.Repo.ConsumeClaimToken(ctx, source.ID, token)
	switch {
	case errors.Is(err, records.ErrTokenConsumed):
		return reject(out), nil
	case err != nil:
		return *out, retryable("consume token", err)
	}

	merged := Merge(target, source)
	stored, err := s.Repo.Upsert(ctx, merged)
	if err != nil {
		if restoreErr := s.Repo.RestoreClaimToken(context.WithoutCancel(ctx), source.ID, token); restoreErr != nil {
			telemetry.Error("claim.restore_token_failed", map[string]any{
				"source_id": source.ID,
				"error":     restoreErr.Error(),
			})
		}
		return *out, retryable("write target", err)
	}

	if err := s.Repo.Retire(ctx, source.ID); err != nil {
		telemetry.Warn("claim.retire_source_failed", map[string]any{
			"source_id": source.ID,
			"target_id": stored.ID,
			"error":     err.Error(),
		})
	}

	out.Path = PathMerge
	out.Target = stored
	out.enter(StateMerged)
	return *out, nil
}

func reject(out *Outcome) Outcome {
	out.Reason = ReasonAlreadyConsumed
	out.enter(StateRejected)
	return *out
}

func retryable(step string, err error) error {
	return fmt.Errorf("%s: %w: %w", step, ErrRetryable, err)
}
