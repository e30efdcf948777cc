package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var testColumns = []string{
	"id", "fingerprint", "identity_kind", "claim_token", "display_name",
	"score_l", "score_p", "score_d", "score_e", "score_f",
	"total_messages", "total_chars", "work_days", "stats", "personality_type",
	"country_code", "latitude", "longitude", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db, Timeout: time.Second}, mock
}

func recordRow(id, kind string, token any, messages int64) *sqlmock.Rows {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(testColumns).AddRow(
		id, "fp-1", kind, token, "octo",
		80.0, 10.0, 20.0, 30.0, 40.0,
		messages, int64(1200), 3, []byte(`{"please":4}`), nil,
		"US", nil, nil, now, now,
	)
}

func TestPGRepoGetByClaimTokenScansRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM user_analysis WHERE claim_token = \\$1").
		WithArgs("tok-1").
		WillReturnRows(recordRow("anon-1", "fingerprint", "tok-1", 40))

	rec, err := repo.GetByClaimToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetByClaimToken: %v", err)
	}
	if rec.ID != "anon-1" || rec.Kind != KindFingerprint {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ClaimToken == nil || *rec.ClaimToken != "tok-1" {
		t.Fatalf("expected claim token tok-1")
	}
	if rec.TotalMessages != 40 || rec.Scores.L != 80 || rec.Tallies["please"] != 4 {
		t.Fatalf("unexpected counters %+v", rec)
	}
	if rec.PersonalityType != nil || rec.Latitude != nil {
		t.Fatalf("expected NULL columns to scan as nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM user_analysis WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(testColumns))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoFindRecentByDisplayNameNormalizes(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("lower\\(display_name\\) = \\$1 AND identity_kind = 'fingerprint' AND total_messages > 0").
		WithArgs("octo").
		WillReturnRows(recordRow("anon-2", "fingerprint", nil, 12))

	rec, err := repo.FindRecentByDisplayName(context.Background(), "  Octo ")
	if err != nil {
		t.Fatalf("FindRecentByDisplayName: %v", err)
	}
	if rec.ID != "anon-2" {
		t.Fatalf("unexpected id %s", rec.ID)
	}
}

func TestPGRepoUpsertByFingerprintKeepsToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	token := "tok-new"
	rec := Record{
		ID:            "anon-3",
		Fingerprint:   "fp-1",
		Kind:          KindFingerprint,
		ClaimToken:    &token,
		TotalMessages: 40,
		WorkDays:      2,
	}
	mock.ExpectQuery("ON CONFLICT \\(fingerprint\\) DO UPDATE SET").
		WithArgs(
			"anon-3", "fp-1", "fingerprint", "tok-new", nil,
			0.0, 0.0, 0.0, 0.0, 0.0,
			int64(40), int64(0), int64(2), nil, nil,
			nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(recordRow("anon-1", "fingerprint", "tok-old", 40))

	stored, err := repo.UpsertByFingerprint(context.Background(), rec)
	if err != nil {
		t.Fatalf("UpsertByFingerprint: %v", err)
	}
	if stored.ID != "anon-1" || *stored.ClaimToken != "tok-old" {
		t.Fatalf("expected existing row to win, got %+v", stored)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpsertMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("ON CONFLICT \\(id\\) DO UPDATE SET").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Upsert(context.Background(), Record{ID: "github:1", Fingerprint: "fp-1", Kind: KindGitHub})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGRepoConsumeClaimToken(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE user_analysis SET claim_token = NULL").
		WithArgs("anon-1", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE user_analysis SET claim_token = NULL").
		WithArgs("anon-1", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ConsumeClaimToken(context.Background(), "anon-1", "tok-1"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := repo.ConsumeClaimToken(context.Background(), "anon-1", "tok-1"); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoRekey(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("SET id = \\$3, identity_kind = 'github', claim_token = NULL").
		WithArgs("anon-1", "tok-1", "github:42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET id = \\$3").
		WithArgs("anon-1", "tok-1", "github:42").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET id = \\$3").
		WithArgs("anon-2", "tok-2", "github:42").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	ctx := context.Background()
	if err := repo.Rekey(ctx, "anon-1", "tok-1", "github:42"); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if err := repo.Rekey(ctx, "anon-1", "tok-1", "github:42"); !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
	if err := repo.Rekey(ctx, "anon-2", "tok-2", "github:42"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPGRepoRetireWritesSentinelFingerprint(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("SET identity_kind = 'migrated'").
		WithArgs("anon-1", "retired:anon-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Retire(context.Background(), "anon-1"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoDeletePlaceholder(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("DELETE FROM user_analysis WHERE id = \\$1 AND total_messages = 0").
		WithArgs("github:42").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeletePlaceholder(context.Background(), "github:42")
	if err != nil {
		t.Fatalf("DeletePlaceholder: %v", err)
	}
	if !deleted {
		t.Fatalf("expected placeholder to be deleted")
	}
}

func TestPGRepoLocationCounts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT country_code, COUNT\\(\\*\\)::BIGINT AS n\\s+FROM user_analysis\\s+WHERE identity_kind <> 'migrated'").
		WithArgs("Global", 10).
		WillReturnRows(sqlmock.NewRows([]string{"country_code", "n"}).AddRow("US", int64(7)).AddRow("DE", int64(2)))

	got, err := repo.LocationCounts(context.Background(), 10)
	if err != nil {
		t.Fatalf("LocationCounts: %v", err)
	}
	if len(got) != 2 || got[0].Region != "US" || got[0].Count != 7 || got[1].Region != "DE" {
		t.Fatalf("unexpected locations %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoRecent(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT created_at, COALESCE\\(NULLIF\\(personality_type, ''\\), \\$1\\)").
		WithArgs(UnknownPersonality, 5).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "personality_type"}).
			AddRow(at, "INTJ").
			AddRow(at.Add(-time.Minute), UnknownPersonality))

	got, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].PersonalityType != "INTJ" || !got[0].At.Equal(at) {
		t.Fatalf("unexpected activity %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoRecentQueryError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM user_analysis").WillReturnError(errors.New("db down"))

	if _, err := repo.Recent(context.Background(), 5); err == nil {
		t.Fatalf("expected error")
	}
}
