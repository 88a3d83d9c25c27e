package convention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"immersion/actor"
)

// UpdateStatusParams enumerates the columns one transition may touch.
type UpdateStatusParams struct {
	ConventionID  string
	Status        Status
	Justification *string
	DateSubmitted *time.Time
	DateValidated *time.Time
}

// Repository defines the data access the convention use cases need. All
// writes run inside the caller's transaction so aggregate mutation and event
// append commit or roll back together.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, c Convention) error
	// GetForUpdate loads the aggregate under a row lock, serializing
	// concurrent operations on the same convention id.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	Get(ctx context.Context, id string) (Convention, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) error
	RecordSignature(ctx context.Context, tx pgx.Tx, id string, role actor.Role, signedAt time.Time) error
	ResetSignatures(ctx context.Context, tx pgx.Tx, id string) error
	ApplyAcceptancePatch(ctx context.Context, tx pgx.Tx, id string, patch AcceptancePatch) error
	// UpdateDraft applies a patch iff the row was not updated since the
	// caller's view; otherwise it reports ErrConflict.
	UpdateDraft(ctx context.Context, tx pgx.Tx, id string, patch DraftPatch, expectedUpdatedAt time.Time) error
	ListValidatedEndingOn(ctx context.Context, day time.Time) ([]Convention, error)
	ListValidatedEndedBefore(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]Convention, error)
}

// PostgresRepository implements Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const conventionColumns = `
id, status, agency_id, siret, internship_kind,
date_submitted, date_validated, date_start, date_end,
schedule, status_justification, renewed_from, created_at, updated_at
`

func scanConvention(row pgx.Row) (Convention, error) {
	var c Convention
	err := row.Scan(
		&c.ID, &c.Status, &c.AgencyID, &c.Siret, &c.InternshipKind,
		&c.DateSubmitted, &c.DateValidated, &c.DateStart, &c.DateEnd,
		&c.Schedule, &c.StatusJustification, &c.RenewedFrom, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresRepository) Insert(ctx context.Context, tx pgx.Tx, c Convention) error {
	const insertSQL = `
INSERT INTO conventions (id, status, agency_id, siret, internship_kind, date_start, date_end, schedule, renewed_from, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $10)
`
	schedule := c.Schedule
	if len(schedule) == 0 {
		schedule = []byte(`{}`)
	}
	if _, err := tx.Exec(ctx, insertSQL,
		c.ID, c.Status, c.AgencyID, c.Siret, c.InternshipKind,
		c.DateStart, c.DateEnd, []byte(schedule), c.RenewedFrom, c.CreatedAt,
	); err != nil {
		return fmt.Errorf("convention: insert: %w", err)
	}

	for _, s := range c.Signatories {
		if _, err := tx.Exec(ctx, `
INSERT INTO convention_signatories (convention_id, role, required, first_name, last_name, email, phone, signed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, c.ID, string(s.Role), s.Required, s.FirstName, s.LastName, s.Email, s.Phone, s.SignedAt); err != nil {
			return fmt.Errorf("convention: insert signatory %s: %w", s.Role, err)
		}
	}

	return nil
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error) {
	c, err := scanConvention(tx.QueryRow(ctx,
		`SELECT `+conventionColumns+` FROM conventions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Convention{}, ErrNotFound
		}
		return Convention{}, fmt.Errorf("convention: lock row: %w", err)
	}

	c.Signatories, err = r.loadSignatories(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	return c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Convention, error) {
	c, err := scanConvention(r.pool.QueryRow(ctx,
		`SELECT `+conventionColumns+` FROM conventions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Convention{}, ErrNotFound
		}
		return Convention{}, fmt.Errorf("convention: get: %w", err)
	}

	c.Signatories, err = r.loadSignatories(ctx, r.pool, id)
	if err != nil {
		return Convention{}, err
	}
	return c, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) loadSignatories(ctx context.Context, q querier, id string) ([]Signatory, error) {
	rows, err := q.Query(ctx, `
SELECT role, required, first_name, last_name, email, phone, signed_at
FROM convention_signatories
WHERE convention_id = $1
ORDER BY role
`, id)
	if err != nil {
		return nil, fmt.Errorf("convention: load signatories: %w", err)
	}
	defer rows.Close()

	signatories := []Signatory{}
	for rows.Next() {
		var s Signatory
		var role string
		if err := rows.Scan(&role, &s.Required, &s.FirstName, &s.LastName, &s.Email, &s.Phone, &s.SignedAt); err != nil {
			return nil, fmt.Errorf("convention: scan signatory: %w", err)
		}
		s.Role = actor.Role(role)
		signatories = append(signatories, s)
	}
	return signatories, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) error {
	const updateSQL = `
UPDATE conventions
SET status = $1,
    status_justification = COALESCE($2, status_justification),
    date_submitted = COALESCE($3, date_submitted),
    date_validated = COALESCE($4, date_validated),
    updated_at = get_tx_timestamp()
WHERE id = $5
`
	tag, err := tx.Exec(ctx, updateSQL,
		params.Status, params.Justification, params.DateSubmitted, params.DateValidated, params.ConventionID)
	if err != nil {
		return fmt.Errorf("convention: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordSignature(ctx context.Context, tx pgx.Tx, id string, role actor.Role, signedAt time.Time) error {
	const q = `
UPDATE convention_signatories
SET signed_at = $1
WHERE convention_id = $2 AND role = $3 AND signed_at IS NULL
`
	tag, err := tx.Exec(ctx, q, signedAt, id, string(role))
	if err != nil {
		return fmt.Errorf("convention: record signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("convention: signature for %s already recorded or signatory missing", role)
	}
	return nil
}

func (r *PostgresRepository) ResetSignatures(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `
UPDATE convention_signatories SET signed_at = NULL WHERE convention_id = $1
`, id); err != nil {
		return fmt.Errorf("convention: reset signatures: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ApplyAcceptancePatch(ctx context.Context, tx pgx.Tx, id string, patch AcceptancePatch) error {
	var schedule any
	if len(patch.Schedule) > 0 {
		schedule = []byte(patch.Schedule)
	}

	const q = `
UPDATE conventions
SET date_start = COALESCE($1, date_start),
    date_end = COALESCE($2, date_end),
    schedule = COALESCE($3::jsonb, schedule),
    updated_at = get_tx_timestamp()
WHERE id = $4
`
	tag, err := tx.Exec(ctx, q, patch.DateStart, patch.DateEnd, schedule, id)
	if err != nil {
		return fmt.Errorf("convention: apply acceptance patch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateDraft(ctx context.Context, tx pgx.Tx, id string, patch DraftPatch, expectedUpdatedAt time.Time) error {
	var schedule any
	if len(patch.Schedule) > 0 {
		schedule = []byte(patch.Schedule)
	}

	const q = `
UPDATE conventions
SET date_start = COALESCE($1, date_start),
    date_end = COALESCE($2, date_end),
    schedule = COALESCE($3::jsonb, schedule),
    siret = COALESCE($4, siret),
    updated_at = get_tx_timestamp()
WHERE id = $5 AND updated_at = $6
`
	tag, err := tx.Exec(ctx, q, patch.DateStart, patch.DateEnd, schedule, patch.Siret, id, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("convention: update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either gone or moved on since the caller's read.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conventions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("convention: update draft: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (r *PostgresRepository) ListValidatedEndingOn(ctx context.Context, day time.Time) ([]Convention, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+conventionColumns+` FROM conventions WHERE status = $1 AND date_end = $2::date`,
		StatusValidated, day)
	if err != nil {
		return nil, fmt.Errorf("convention: list ending on: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *PostgresRepository) ListValidatedEndedBefore(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]Convention, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Query(ctx,
		`SELECT `+conventionColumns+` FROM conventions
WHERE status = $1 AND date_end < $2::date
ORDER BY date_end ASC
LIMIT $3
FOR UPDATE`,
		StatusValidated, before, limit)
	if err != nil {
		return nil, fmt.Errorf("convention: list ended before: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *PostgresRepository) collect(ctx context.Context, rows pgx.Rows) ([]Convention, error) {
	defer rows.Close()

	conventions := []Convention{}
	for rows.Next() {
		c, err := scanConvention(rows)
		if err != nil {
			return nil, fmt.Errorf("convention: scan: %w", err)
		}
		conventions = append(conventions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range conventions {
		signatories, err := r.loadSignatories(ctx, r.pool, conventions[i].ID)
		if err != nil {
			return nil, err
		}
		conventions[i].Signatories = signatories
	}

	return conventions, nil
}

var _ Repository = (*PostgresRepository)(nil)
