package partnersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no ledger row exists for a convention id.
var ErrNotFound = errors.New("partnersync: not found")

type Repository interface {
	// Save upserts by convention id: the latest status, process date and
	// reason replace whatever was there.
	Save(ctx context.Context, record ConventionToSync) error
	// ScheduleTx enrolls a convention as TO_PROCESS inside the caller's
	// transaction, resetting any previous outcome.
	ScheduleTx(ctx context.Context, tx pgx.Tx, conventionID string) error
	Get(ctx context.Context, conventionID string) (ConventionToSync, error)
	// GetNotProcessedAndErrored returns the work queue: TO_PROCESS rows
	// first, then ERROR rows, oldest first within each group.
	GetNotProcessedAndErrored(ctx context.Context, limit int) ([]ConventionToSync, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const upsertSQL = `
INSERT INTO conventions_to_sync (id, status, process_date, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
    process_date = EXCLUDED.process_date,
    reason = EXCLUDED.reason,
    updated_at = now()
`

func (r *PostgresRepository) Save(ctx context.Context, record ConventionToSync) error {
	if _, err := r.pool.Exec(ctx, upsertSQL,
		record.ID, string(record.Status), record.ProcessDate, record.Reason); err != nil {
		return fmt.Errorf("partnersync: save %s: %w", record.ID, err)
	}
	return nil
}

func (r *PostgresRepository) ScheduleTx(ctx context.Context, tx pgx.Tx, conventionID string) error {
	if _, err := tx.Exec(ctx, upsertSQL, conventionID, string(StatusToProcess), nil, nil); err != nil {
		return fmt.Errorf("partnersync: schedule %s: %w", conventionID, err)
	}
	return nil
}

const syncColumns = `id, status, process_date, reason, created_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, conventionID string) (ConventionToSync, error) {
	record, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+syncColumns+` FROM conventions_to_sync WHERE id = $1`, conventionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConventionToSync{}, ErrNotFound
		}
		return ConventionToSync{}, fmt.Errorf("partnersync: get %s: %w", conventionID, err)
	}
	return record, nil
}

func (r *PostgresRepository) GetNotProcessedAndErrored(ctx context.Context, limit int) ([]ConventionToSync, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+syncColumns+`
FROM conventions_to_sync
WHERE status IN ($1, $2)
ORDER BY CASE status WHEN $1 THEN 0 ELSE 1 END, created_at ASC
LIMIT $3
`, string(StatusToProcess), string(StatusError), limit)
	if err != nil {
		return nil, fmt.Errorf("partnersync: list work queue: %w", err)
	}
	defer rows.Close()

	records := []ConventionToSync{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("partnersync: scan: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (ConventionToSync, error) {
	var record ConventionToSync
	var status string
	err := row.Scan(&record.ID, &status, &record.ProcessDate, &record.Reason, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return ConventionToSync{}, err
	}
	record.Status = Status(status)
	return record, nil
}

var _ Repository = (*PostgresRepository)(nil)
