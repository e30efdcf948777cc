package records

import "context"

// Repo is the backing store for analysis records. Every method is a single
// key-based statement; callers never rely on multi-statement transactions.
type Repo interface {
	GetByID(ctx context.Context, id string) (Record, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (Record, error)
	GetByClaimToken(ctx context.Context, token string) (Record, error)
	// FindRecentByDisplayName returns the most recently updated anonymous
	// record with the given normalized name and non-zero counters.
	FindRecentByDisplayName(ctx context.Context, name string) (Record, error)

	// Upsert writes rec by primary key, overwriting an existing row.
	Upsert(ctx context.Context, rec Record) (Record, error)
	// UpsertByFingerprint inserts rec or merges it into the row holding the
	// same fingerprint. An existing claim token is kept and work_days never
	// decreases.
	UpsertByFingerprint(ctx context.Context, rec Record) (Record, error)
	DeleteByID(ctx context.Context, id string) error
	// DeletePlaceholder deletes id only when it has never had activity.
	DeletePlaceholder(ctx context.Context, id string) (bool, error)

	// ConsumeClaimToken clears token on id if it is still present.
	ConsumeClaimToken(ctx context.Context, id, token string) error
	// RestoreClaimToken puts token back on id if no token is present.
	RestoreClaimToken(ctx context.Context, id, token string) error
	// Rekey moves an anonymous record holding token to targetID as a github
	// record and clears the token in the same write.
	Rekey(ctx context.Context, srcID, token, targetID string) error
	// Retire soft-deletes the source of a merge.
	Retire(ctx context.Context, id string) error

	// LocationCounts returns the regions with the most live records, skipping
	// retired records and the Global sentinel.
	LocationCounts(ctx context.Context, limit int) ([]LocationCount, error)
	// Recent returns the newest live records, newest first.
	Recent(ctx context.Context, limit int) ([]Activity, error)
}
