package claims

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"vibe-backend/internal/identity"
	"vibe-backend/internal/records"
)

func strPtr(s string) *string { return &s }

func newTestService(repo records.Repo) *Service {
	return NewService(repo, identity.NewResolver(repo, true))
}

func seed(t *testing.T, repo records.Repo, recs ...records.Record) {
	t.Helper()
	for _, rec := range recs {
		_, err := repo.Upsert(context.Background(), rec)
		require.NoError(t, err)
	}
}

func TestClaimRekeysWhenTargetMissing(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	seed(t, repo, records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40, Scores: records.Scores{L: 80}})
	svc := newTestService(repo)

	out, err := svc.Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateMerged, out.State)
	require.Equal(t, PathRekey, out.Path)
	require.Equal(t, []State{StateNotStarted, StateSourceVerified, StateTargetResolved, StateMerged}, out.Trace)

	target, err := repo.GetByID(ctx, "github:42")
	require.NoError(t, err)
	require.Equal(t, int64(40), target.TotalMessages)
	require.Equal(t, records.KindGitHub, target.Kind)
	require.Nil(t, target.ClaimToken)

	again, err := svc.Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateRejected, again.State)
	require.Equal(t, ReasonAlreadyConsumed, again.Reason)

	target, err = repo.GetByID(ctx, "github:42")
	require.NoError(t, err)
	require.Equal(t, int64(40), target.TotalMessages, "second claim must not double count")
}

func TestClaimMergesIntoExistingTarget(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	seed(t, repo,
		records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40, WorkDays: 2, Scores: records.Scores{L: 80}, DisplayName: strPtr("octo")},
		records.Record{ID: "github:42", Kind: records.KindGitHub, TotalMessages: 10, WorkDays: 5, Scores: records.Scores{L: 0, P: 33}},
	)
	svc := newTestService(repo)

	out, err := svc.Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateMerged, out.State)
	require.Equal(t, PathMerge, out.Path)

	target, err := repo.GetByID(ctx, "github:42")
	require.NoError(t, err)
	require.Equal(t, int64(50), target.TotalMessages)
	require.Equal(t, 80.0, target.Scores.L)
	require.Equal(t, 33.0, target.Scores.P, "zero source scores never overwrite")
	require.Equal(t, 5, target.WorkDays)
	require.Equal(t, "octo", *target.DisplayName)

	source, err := repo.GetByID(ctx, "anon-1")
	require.NoError(t, err)
	require.True(t, source.IsRetired())
	require.Nil(t, source.ClaimToken)

	again, err := svc.Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateRejected, again.State)
	target, err = repo.GetByID(ctx, "github:42")
	require.NoError(t, err)
	require.Equal(t, int64(50), target.TotalMessages)
}

func TestClaimDeletesPlaceholderTarget(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	seed(t, repo,
		records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40},
		records.Record{ID: "github:42", Kind: records.KindGitHub},
	)

	out, err := newTestService(repo).Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateMerged, out.State)
	require.Equal(t, PathRekey, out.Path)
	require.Equal(t, int64(40), out.Target.TotalMessages)
}

func TestClaimNothingToMigrate(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	seed(t, repo, records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1")})

	out, err := newTestService(repo).Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateNothingToMigrate, out.State)

	_, err = repo.GetByID(ctx, "github:42")
	require.ErrorIs(t, err, records.ErrNotFound)
	src, err := repo.GetByID(ctx, "anon-1")
	require.NoError(t, err)
	require.NotNil(t, src.ClaimToken)
}

func TestClaimRejectsUnknownAndGitHubTokens(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	seed(t, repo, records.Record{ID: "github:1", Kind: records.KindGitHub, ClaimToken: strPtr("tok-gh"), TotalMessages: 3})
	svc := newTestService(repo)

	for _, token := range []string{"unknown", "tok-gh"} {
		out, err := svc.Claim(ctx, token, "github:42")
		require.NoError(t, err)
		require.Equal(t, StateRejected, out.State, token)
		require.Equal(t, ReasonAlreadyConsumed, out.Reason)
	}
}

func TestClaimRequiresTokenAndAccount(t *testing.T) {
	svc := newTestService(records.NewMemoryRepo())
	_, err := svc.Claim(context.Background(), "", "github:1")
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Claim(context.Background(), "tok", " ")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentClaimsMergeOnce(t *testing.T) {
	for _, withTarget := range []bool{false, true} {
		name := "rekey"
		if withTarget {
			name = "merge"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := records.NewMemoryRepo()
			seed(t, repo, records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40})
			if withTarget {
				seed(t, repo, records.Record{ID: "github:42", Kind: records.KindGitHub, TotalMessages: 10})
			}
			svc := newTestService(repo)

			const workers = 16
			var merged atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					out, err := svc.Claim(ctx, "tok-1", "github:42")
					if err == nil && out.State == StateMerged {
						merged.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), merged.Load())
			target, err := repo.GetByID(ctx, "github:42")
			require.NoError(t, err)
			want := int64(40)
			if withTarget {
				want = 50
			}
			require.Equal(t, want, target.TotalMessages)
		})
	}
}

type flakyRepo struct {
	*records.MemoryRepo
	upsertFailures int
	retireErr      error
	tokenErr       error
}

func (f *flakyRepo) Upsert(ctx context.Context, rec records.Record) (records.Record, error) {
	if f.upsertFailures > 0 {
		f.upsertFailures--
		return records.Record{}, errors.New("store timeout")
	}
	return f.MemoryRepo.Upsert(ctx, rec)
}

func (f *flakyRepo) Retire(ctx context.Context, id string) error {
	if f.retireErr != nil {
		return f.retireErr
	}
	return f.MemoryRepo.Retire(ctx, id)
}

func (f *flakyRepo) GetByClaimToken(ctx context.Context, token string) (records.Record, error) {
	if f.tokenErr != nil {
		return records.Record{}, f.tokenErr
	}
	return f.MemoryRepo.GetByClaimToken(ctx, token)
}

func seedMergePair(t *testing.T, repo *records.MemoryRepo) {
	t.Helper()
	seed(t, repo,
		records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40},
		records.Record{ID: "github:42", Kind: records.KindGitHub, TotalMessages: 10},
	)
}

func TestClaimTargetWriteFailureRestoresToken(t *testing.T) {
	ctx := context.Background()
	mem := records.NewMemoryRepo()
	seedMergePair(t, mem)
	repo := &flakyRepo{MemoryRepo: mem, upsertFailures: 1}
	svc := newTestService(repo)

	_, err := svc.Claim(ctx, "tok-1", "github:42")
	require.ErrorIs(t, err, ErrRetryable)

	src, err := mem.GetByClaimToken(ctx, "tok-1")
	require.NoError(t, err, "token must be redeemable after a failed merge write")
	require.Equal(t, "anon-1", src.ID)

	out, err := svc.Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateMerged, out.State)
	target, err := mem.GetByID(ctx, "github:42")
	require.NoError(t, err)
	require.Equal(t, int64(50), target.TotalMessages)
}

func TestClaimAcceptsRetireFailure(t *testing.T) {
	ctx := context.Background()
	mem := records.NewMemoryRepo()
	seedMergePair(t, mem)
	repo := &flakyRepo{MemoryRepo: mem, retireErr: errors.New("store timeout")}

	out, err := newTestService(repo).Claim(ctx, "tok-1", "github:42")
	require.NoError(t, err)
	require.Equal(t, StateMerged, out.State)
	require.Equal(t, int64(50), out.Target.TotalMessages)

	_, err = mem.GetByClaimToken(ctx, "tok-1")
	require.ErrorIs(t, err, records.ErrNotFound, "token stays consumed even if retire fails")
}

func TestClaimStoreFailureIsRetryable(t *testing.T) {
	mem := records.NewMemoryRepo()
	seedMergePair(t, mem)
	repo := &flakyRepo{MemoryRepo: mem, tokenErr: errors.New("connection reset")}

	_, err := newTestService(repo).Claim(context.Background(), "tok-1", "github:42")
	require.ErrorIs(t, err, ErrRetryable)
}

func TestMerge(t *testing.T) {
	lat := 1.5
	target := records.Record{
		ID: "github:1", Kind: records.KindGitHub, TotalMessages: 10, TotalChars: 100, WorkDays: 9,
		Scores: records.Scores{L: 10, P: 20, D: 30, E: 40, F: 50}, DisplayName: strPtr("old"),
	}
	source := records.Record{
		ID: "anon", ClaimToken: strPtr("tok"), TotalMessages: 40, TotalChars: 400, WorkDays: 3,
		Scores: records.Scores{L: 80, F: 90}, Latitude: &lat,
	}

	got := Merge(target, source)
	require.Equal(t, "github:1", got.ID)
	require.Equal(t, records.KindGitHub, got.Kind)
	require.Nil(t, got.ClaimToken)
	require.Equal(t, int64(50), got.TotalMessages)
	require.Equal(t, int64(500), got.TotalChars)
	require.Equal(t, 9, got.WorkDays)
	require.Equal(t, records.Scores{L: 80, P: 20, D: 30, E: 40, F: 90}, got.Scores)
	require.Equal(t, "old", *got.DisplayName)
	require.Equal(t, 1.5, *got.Latitude)

	idle := Merge(target, records.Record{Scores: records.Scores{L: 99}})
	require.Equal(t, target.Scores, idle.Scores, "inactive sources never overwrite scores")
}
