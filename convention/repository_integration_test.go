package convention

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"immersion/actor"
	"immersion/db"
)

func integrationPool(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return pool, ctx
}

func seedConvention(t *testing.T, ctx context.Context, pool *pgxpool.Pool, repo *PostgresRepository, status Status) Convention {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := Convention{
		ID:             uuid.NewString(),
		Status:         status,
		AgencyID:       uuid.NewString(),
		Siret:          "13002526500013",
		InternshipKind: "immersion",
		DateStart:      now.AddDate(0, 0, 7),
		DateEnd:        now.AddDate(0, 0, 21),
		CreatedAt:      now,
		UpdatedAt:      now,
		Signatories: []Signatory{
			{Role: actor.RoleBeneficiary, Required: true, FirstName: "Nora", LastName: "Benali", Email: "nora@example.com"},
			{Role: actor.RoleEstablishmentRepresentative, Required: true, FirstName: "Paul", LastName: "Girard", Email: "paul@example.com"},
			{Role: actor.RoleEstablishmentTutor, FirstName: "Ines", LastName: "Robert", Email: "ines@example.com"},
		},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := repo.Insert(ctx, tx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	return c
}

func TestPostgresRepository_RoundTrip(t *testing.T) {
	pool, ctx := integrationPool(t)
	repo := NewPostgresRepository(pool)

	seeded := seedConvention(t, ctx, pool, repo, StatusDraft)

	got, err := repo.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusDraft {
		t.Errorf("expected DRAFT, got %s", got.Status)
	}
	if len(got.Signatories) != 3 {
		t.Fatalf("expected 3 signatories, got %d", len(got.Signatories))
	}
	if b := got.Signatory(actor.RoleBeneficiary); b == nil || !b.Required {
		t.Errorf("beneficiary must be loaded and required")
	}
}

func TestPostgresRepository_GetMissing(t *testing.T) {
	pool, ctx := integrationPool(t)
	repo := NewPostgresRepository(pool)

	if _, err := repo.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepository_SignatureRecordedOnce(t *testing.T) {
	pool, ctx := integrationPool(t)
	repo := NewPostgresRepository(pool)

	seeded := seedConvention(t, ctx, pool, repo, StatusReadyToSign)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	signedAt := time.Now().UTC()
	if err := repo.RecordSignature(ctx, tx, seeded.ID, actor.RoleBeneficiary, signedAt); err != nil {
		t.Fatalf("first signature: %v", err)
	}
	// The signed_at IS NULL guard refuses a second write; the service never
	// reaches it because it no-ops on an already signed role.
	if err := repo.RecordSignature(ctx, tx, seeded.ID, actor.RoleBeneficiary, signedAt.Add(time.Minute)); err == nil {
		t.Fatalf("expected second record to be refused")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	s := got.Signatory(actor.RoleBeneficiary)
	if s.SignedAt == nil || !s.SignedAt.Equal(signedAt.Truncate(time.Microsecond)) {
		t.Errorf("expected first signature timestamp to be kept, got %v", s.SignedAt)
	}
}

func TestPostgresRepository_UpdateDraftConflict(t *testing.T) {
	pool, ctx := integrationPool(t)
	repo := NewPostgresRepository(pool)

	seeded := seedConvention(t, ctx, pool, repo, StatusDraft)

	fresh, err := repo.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	newEnd := fresh.DateEnd.AddDate(0, 0, 7)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.UpdateDraft(ctx, tx, seeded.ID, DraftPatch{DateEnd: &newEnd}, fresh.UpdatedAt); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Second writer still holds the stale updated_at.
	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx2.Rollback(ctx)

	err = repo.UpdateDraft(ctx, tx2, seeded.ID, DraftPatch{DateEnd: &newEnd}, fresh.UpdatedAt)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPostgresRepository_ListValidatedEndedBefore(t *testing.T) {
	pool, ctx := integrationPool(t)
	repo := NewPostgresRepository(pool)

	ended := seedConvention(t, ctx, pool, repo, StatusValidated)
	ongoing := seedConvention(t, ctx, pool, repo, StatusValidated)

	// Push one convention's end date into the past.
	if _, err := pool.Exec(ctx,
		`UPDATE conventions SET date_end = CURRENT_DATE - 30 WHERE id = $1`, ended.ID); err != nil {
		t.Fatalf("age convention: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	expired, err := repo.ListValidatedEndedBefore(ctx, tx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	found := map[string]bool{}
	for _, c := range expired {
		found[c.ID] = true
	}
	if !found[ended.ID] {
		t.Errorf("expected ended convention in sweep")
	}
	if found[ongoing.ID] {
		t.Errorf("ongoing convention must not be swept")
	}
}
