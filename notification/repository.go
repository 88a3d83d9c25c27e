package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no notification row exists for an id.
var ErrNotFound = errors.New("notification: not found")

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, n Notification) error
	Get(ctx context.Context, id string) (Notification, error)
	ListForConvention(ctx context.Context, conventionID string) ([]Notification, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, tx pgx.Tx, n Notification) error {
	params := n.Params
	if len(params) == 0 {
		params = []byte(`{}`)
	}
	var conventionID *string
	if n.ConventionID != "" {
		conventionID = &n.ConventionID
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO notifications (id, kind, template, convention_id, recipients, params, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
`, n.ID, string(n.Kind), n.Template, conventionID, n.Recipients, []byte(params), n.CreatedAt); err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

const notificationColumns = `id, kind, template, convention_id, recipients, params, created_at`

func (r *PostgresRepository) Get(ctx context.Context, id string) (Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListForConvention(ctx context.Context, conventionID string) ([]Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE convention_id = $1 ORDER BY created_at ASC`,
		conventionID)
	if err != nil {
		return nil, fmt.Errorf("notification: list for convention: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var kind string
	var conventionID *string
	err := row.Scan(&n.ID, &kind, &n.Template, &conventionID, &n.Recipients, &n.Params, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	n.Kind = Kind(kind)
	if conventionID != nil {
		n.ConventionID = *conventionID
	}
	return n, nil
}

var _ Repository = (*PostgresRepository)(nil)
