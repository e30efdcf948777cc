package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"vibe-backend/internal/regions"
	"vibe-backend/internal/shared/remote"
)

const uniqueViolation = "23505"

const recordColumns = `id, fingerprint, identity_kind, claim_token, display_name,
       score_l, score_p, score_d, score_e, score_f,
       total_messages, total_chars, work_days, stats, personality_type,
       country_code, latitude, longitude, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB      *sql.DB
	Timeout time.Duration
}

// GetByID returns a record by primary key.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Record, error) {
	return r.getOne(ctx, "records.get_by_id", `SELECT `+recordColumns+` FROM user_analysis WHERE id = $1 LIMIT 1`, id)
}

// GetByFingerprint returns a record by device fingerprint.
func (r *PGRepo) GetByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return r.getOne(ctx, "records.get_by_fingerprint", `SELECT `+recordColumns+` FROM user_analysis WHERE fingerprint = $1 LIMIT 1`, fingerprint)
}

// GetByClaimToken returns the record currently holding token.
func (r *PGRepo) GetByClaimToken(ctx context.Context, token string) (Record, error) {
	return r.getOne(ctx, "records.get_by_claim_token", `SELECT `+recordColumns+` FROM user_analysis WHERE claim_token = $1 LIMIT 1`, token)
}

// FindRecentByDisplayName returns the latest active anonymous record for name.
func (r *PGRepo) FindRecentByDisplayName(ctx context.Context, name string) (Record, error) {
	const query = `SELECT ` + recordColumns + `
FROM user_analysis
WHERE lower(display_name) = $1 AND identity_kind = 'fingerprint' AND total_messages > 0
ORDER BY updated_at DESC
LIMIT 1`
	return r.getOne(ctx, "records.find_by_display_name", query, NormalizeDisplayName(name))
}

// Upsert writes rec by primary key.
func (r *PGRepo) Upsert(ctx context.Context, rec Record) (Record, error) {
	const query = `
INSERT INTO user_analysis (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	identity_kind = EXCLUDED.identity_kind,
	claim_token = EXCLUDED.claim_token,
	display_name = EXCLUDED.display_name,
	score_l = EXCLUDED.score_l,
	score_p = EXCLUDED.score_p,
	score_d = EXCLUDED.score_d,
	score_e = EXCLUDED.score_e,
	score_f = EXCLUDED.score_f,
	total_messages = EXCLUDED.total_messages,
	total_chars = EXCLUDED.total_chars,
	work_days = EXCLUDED.work_days,
	stats = EXCLUDED.stats,
	personality_type = EXCLUDED.personality_type,
	country_code = EXCLUDED.country_code,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	updated_at = EXCLUDED.updated_at
RETURNING ` + recordColumns
	return r.upsert(ctx, "records.upsert", query, rec)
}

// UpsertByFingerprint inserts rec or merges it into the row with the same fingerprint.
func (r *PGRepo) UpsertByFingerprint(ctx context.Context, rec Record) (Record, error) {
	if rec.Fingerprint == "" {
		return Record{}, fmt.Errorf("upsert by fingerprint: empty fingerprint")
	}
	const query = `
INSERT INTO user_analysis (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (fingerprint) DO UPDATE SET
	claim_token = CASE WHEN user_analysis.identity_kind = 'fingerprint'
		THEN COALESCE(user_analysis.claim_token, EXCLUDED.claim_token) ELSE NULL END,
	display_name = COALESCE(EXCLUDED.display_name, user_analysis.display_name),
	score_l = EXCLUDED.score_l,
	score_p = EXCLUDED.score_p,
	score_d = EXCLUDED.score_d,
	score_e = EXCLUDED.score_e,
	score_f = EXCLUDED.score_f,
	total_messages = EXCLUDED.total_messages,
	total_chars = EXCLUDED.total_chars,
	work_days = GREATEST(user_analysis.work_days, EXCLUDED.work_days),
	stats = COALESCE(EXCLUDED.stats, user_analysis.stats),
	personality_type = COALESCE(EXCLUDED.personality_type, user_analysis.personality_type),
	country_code = COALESCE(EXCLUDED.country_code, user_analysis.country_code),
	latitude = COALESCE(EXCLUDED.latitude, user_analysis.latitude),
	longitude = COALESCE(EXCLUDED.longitude, user_analysis.longitude),
	updated_at = EXCLUDED.updated_at
RETURNING ` + recordColumns
	return r.upsert(ctx, "records.upsert_by_fingerprint", query, rec)
}

// DeleteByID removes a record.
func (r *PGRepo) DeleteByID(ctx context.Context, id string) error {
	return remote.Do(ctx, r.Timeout, "records.delete", func(ctx context.Context) error {
		_, err := r.DB.ExecContext(ctx, `DELETE FROM user_analysis WHERE id = $1`, id)
		return err
	})
}

// DeletePlaceholder deletes id when it has no activity.
func (r *PGRepo) DeletePlaceholder(ctx context.Context, id string) (bool, error) {
	return remote.Get(ctx, r.Timeout, "records.delete_placeholder", func(ctx context.Context) (bool, error) {
		res, err := r.DB.ExecContext(ctx,
			`DELETE FROM user_analysis WHERE id = $1 AND total_messages = 0 AND total_chars = 0`, id)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n > 0, err
	})
}

// ConsumeClaimToken clears token on id; zero affected rows means another
// claimant already consumed it.
func (r *PGRepo) ConsumeClaimToken(ctx context.Context, id, token string) error {
	return r.execOne(ctx, "records.consume_claim_token",
		`UPDATE user_analysis SET claim_token = NULL, updated_at = NOW() WHERE id = $1 AND claim_token = $2`,
		ErrTokenConsumed, id, token)
}

// RestoreClaimToken reinstates token after a failed merge write.
func (r *PGRepo) RestoreClaimToken(ctx context.Context, id, token string) error {
	return r.execOne(ctx, "records.restore_claim_token",
		`UPDATE user_analysis SET claim_token = $2, updated_at = NOW() WHERE id = $1 AND claim_token IS NULL AND identity_kind = 'fingerprint'`,
		ErrNotFound, id, token)
}

// Rekey moves the anonymous record holding token to targetID.
func (r *PGRepo) Rekey(ctx context.Context, srcID, token, targetID string) error {
	const query = `
UPDATE user_analysis
SET id = $3, identity_kind = 'github', claim_token = NULL, updated_at = NOW()
WHERE id = $1 AND claim_token = $2 AND identity_kind = 'fingerprint'`
	return r.execOne(ctx, "records.rekey", query, ErrTokenConsumed, srcID, token, targetID)
}

// Retire soft-deletes a merge source: it leaves the public read models and
// frees its fingerprint, but the row stays for audit.
func (r *PGRepo) Retire(ctx context.Context, id string) error {
	const query = `
UPDATE user_analysis
SET identity_kind = 'migrated',
    fingerprint = $2,
    claim_token = NULL,
    display_name = NULL,
    stats = NULL,
    personality_type = NULL,
    updated_at = NOW()
WHERE id = $1`
	return r.execOne(ctx, "records.retire", query, ErrNotFound, id, RetiredFingerprintPrefix+id)
}

// LocationCounts groups live records by region.
func (r *PGRepo) LocationCounts(ctx context.Context, limit int) ([]LocationCount, error) {
	const query = `
SELECT country_code, COUNT(*)::BIGINT AS n
FROM user_analysis
WHERE identity_kind <> 'migrated' AND country_code IS NOT NULL AND country_code <> '' AND country_code <> $1
GROUP BY country_code
ORDER BY n DESC, country_code
LIMIT $2`
	return remote.Get(ctx, r.Timeout, "records.location_counts", func(ctx context.Context) ([]LocationCount, error) {
		rows, err := r.DB.QueryContext(ctx, query, regions.Global, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out := make([]LocationCount, 0)
		for rows.Next() {
			var lc LocationCount
			if err := rows.Scan(&lc.Region, &lc.Count); err != nil {
				return nil, err
			}
			out = append(out, lc)
		}
		return out, rows.Err()
	})
}

// Recent returns the newest live records.
func (r *PGRepo) Recent(ctx context.Context, limit int) ([]Activity, error) {
	const query = `
SELECT created_at, COALESCE(NULLIF(personality_type, ''), $1)
FROM user_analysis
WHERE identity_kind <> 'migrated'
ORDER BY created_at DESC
LIMIT $2`
	return remote.Get(ctx, r.Timeout, "records.recent", func(ctx context.Context) ([]Activity, error) {
		rows, err := r.DB.QueryContext(ctx, query, UnknownPersonality, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out := make([]Activity, 0)
		for rows.Next() {
			var a Activity
			if err := rows.Scan(&a.At, &a.PersonalityType); err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, rows.Err()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGRepo) getOne(ctx context.Context, op, query string, arg string) (Record, error) {
	return remote.Get(ctx, r.Timeout, op, func(ctx context.Context) (Record, error) {
		rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, arg))
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return rec, err
	})
}

func (r *PGRepo) upsert(ctx context.Context, op, query string, rec Record) (Record, error) {
	args, err := recordArgs(rec)
	if err != nil {
		return Record{}, err
	}
	return remote.Get(ctx, r.Timeout, op, func(ctx context.Context) (Record, error) {
		stored, err := scanRecord(r.DB.QueryRowContext(ctx, query, args...))
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return stored, err
	})
}

func (r *PGRepo) execOne(ctx context.Context, op, query string, noRows error, args ...any) error {
	return remote.Do(ctx, r.Timeout, op, func(ctx context.Context) error {
		res, err := r.DB.ExecContext(ctx, query, args...)
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return noRows
		}
		return nil
	})
}

func recordArgs(rec Record) ([]any, error) {
	stats, err := marshalTallies(rec.Tallies)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	kind := rec.Kind
	if kind == "" {
		kind = KindFingerprint
	}
	return []any{
		rec.ID,
		nullString(rec.Fingerprint),
		string(kind),
		rec.ClaimToken,
		rec.DisplayName,
		rec.Scores.L, rec.Scores.P, rec.Scores.D, rec.Scores.E, rec.Scores.F,
		rec.TotalMessages,
		rec.TotalChars,
		rec.WorkDays,
		stats,
		rec.PersonalityType,
		rec.CountryCode,
		rec.Latitude,
		rec.Longitude,
		createdAt,
		updatedAt,
	}, nil
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		fingerprint sql.NullString
		kind        string
		claimToken  sql.NullString
		displayName sql.NullString
		stats       []byte
		personality sql.NullString
		country     sql.NullString
		lat, lng    sql.NullFloat64
	)
	err := row.Scan(
		&rec.ID, &fingerprint, &kind, &claimToken, &displayName,
		&rec.Scores.L, &rec.Scores.P, &rec.Scores.D, &rec.Scores.E, &rec.Scores.F,
		&rec.TotalMessages, &rec.TotalChars, &rec.WorkDays, &stats, &personality,
		&country, &lat, &lng, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Fingerprint = fingerprint.String
	rec.Kind = Kind(kind)
	rec.ClaimToken = stringPtr(claimToken)
	rec.DisplayName = stringPtr(displayName)
	rec.PersonalityType = stringPtr(personality)
	rec.CountryCode = stringPtr(country)
	rec.Latitude = floatPtr(lat)
	rec.Longitude = floatPtr(lng)
	if len(stats) > 0 && string(stats) != "null" {
		if err := json.Unmarshal(stats, &rec.Tallies); err != nil {
			return Record{}, fmt.Errorf("decode stats: %w", err)
		}
	}
	return rec, nil
}

func marshalTallies(tallies map[string]int64) (any, error) {
	if tallies == nil {
		return nil, nil
	}
	raw, err := json.Marshal(tallies)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
