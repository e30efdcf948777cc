// Package identity decides which durable record a request's data belongs to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vibe-backend/internal/records"
)

// ErrAlreadyConsumed is returned when a claim token resolves to a record that
// is already owned by an authenticated account.
var ErrAlreadyConsumed = errors.New("claim token already consumed")

// Strategy names the signal that produced a match.
type Strategy string

const (
	StrategyNone        Strategy = ""
	StrategyAccount     Strategy = "account"
	StrategyClaimToken  Strategy = "claim_token"
	StrategyFingerprint Strategy = "fingerprint"
	StrategyUsername    Strategy = "username"
)

// Query carries whatever identity signals a request presented.
type Query struct {
	AccountID   string
	Fingerprint string
	Username    string
	ClaimToken  string
}

// Match is the resolved record. Found is false when no strategy matched,
// which is a normal result and not an error.
type Match struct {
	Record   records.Record
	Strategy Strategy
	Found    bool
}

// Resolver looks up records by the strongest available signal. It never writes.
type Resolver struct {
	Repo records.Repo
	// UsernameFallback enables the display-name lookup used to recover
	// continuity after a fingerprint rotation.
	UsernameFallback bool
}

// NewResolver constructs a Resolver.
func NewResolver(repo records.Repo, usernameFallback bool) *Resolver {
	return &Resolver{Repo: repo, UsernameFallback: usernameFallback}
}

// Resolve tries, in order: account id (github records only), claim token,
// fingerprint, then the display-name fallback. The first match wins.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Match, error) {
	if id := strings.TrimSpace(q.AccountID); id != "" {
		rec, err := r.Repo.GetByID(ctx, id)
		switch {
		case err == nil && rec.Kind == records.KindGitHub:
			return Match{Record: rec, Strategy: StrategyAccount, Found: true}, nil
		case err != nil && !errors.Is(err, records.ErrNotFound):
			return Match{}, fmt.Errorf("resolve by account: %w", err)
		}
	}

	if token := strings.TrimSpace(q.ClaimToken); token != "" {
		rec, err := r.Repo.GetByClaimToken(ctx, token)
		switch {
		case err == nil && rec.Kind == records.KindGitHub:
			return Match{}, ErrAlreadyConsumed
		case err == nil:
			return Match{Record: rec, Strategy: StrategyClaimToken, Found: true}, nil
		case !errors.Is(err, records.ErrNotFound):
			return Match{}, fmt.Errorf("resolve by claim token: %w", err)
		}
	}

	if fp := strings.TrimSpace(q.Fingerprint); fp != "" {
		rec, err := r.Repo.GetByFingerprint(ctx, fp)
		switch {
		case err == nil && !rec.IsRetired():
			return Match{Record: rec, Strategy: StrategyFingerprint, Found: true}, nil
		case err != nil && !errors.Is(err, records.ErrNotFound):
			return Match{}, fmt.Errorf("resolve by fingerprint: %w", err)
		}
	}

	if name := records.NormalizeDisplayName(q.Username); r.UsernameFallback && name != "" {
		rec, err := r.Repo.FindRecentByDisplayName(ctx, name)
		switch {
		case err == nil:
			return Match{Record: rec, Strategy: StrategyUsername, Found: true}, nil
		case !errors.Is(err, records.ErrNotFound):
			return Match{}, fmt.Errorf("resolve by username: %w", err)
		}
	}

	return Match{}, nil
}
