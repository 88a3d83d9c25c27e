package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for domain events and their publication
// history. Events are only ever appended; publication history is only ever
// appended; the single mutable bit is the quarantine flag.
type Repository interface {
	// SaveNewEventsBatch appends the events produced by one use case inside
	// the caller's transaction, so a crash cannot persist half the side
	// effects of one business operation.
	SaveNewEventsBatch(ctx context.Context, tx pgx.Tx, events []Event) error
	// ListUnpublished returns up to limit non-quarantined events whose latest
	// publication did not fully succeed, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	// RecordPublication appends one dispatcher pass outcome and, when asked,
	// quarantines the event in the same statement batch.
	RecordPublication(ctx context.Context, eventID string, pub Publication, quarantine bool) error
	// ListQuarantined surfaces quarantined events for operator review.
	ListQuarantined(ctx context.Context, limit int) ([]Event, error)
	// RequeueQuarantined clears the quarantine flag so the next pass retries.
	RequeueQuarantined(ctx context.Context, eventID string) error
	// HasEventForConvention reports whether any event of the topic references
	// the convention, regardless of publication state.
	HasEventForConvention(ctx context.Context, topic, conventionID string) (bool, error)
	// DeleteOldPublished removes published events at least as old as before,
	// oldest first, capped at limit. Returns the count actually deleted.
	DeleteOldPublished(ctx context.Context, before time.Time, limit int) (int, error)
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SaveNewEventsBatch(ctx context.Context, tx pgx.Tx, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		if event.ID == "" || event.Topic == "" {
			return fmt.Errorf("outbox: event missing id or topic")
		}
		batch.Queue(`
INSERT INTO domain_events (id, topic, payload, occurred_at)
VALUES ($1, $2, $3::jsonb, $4)
`, event.ID, event.Topic, []byte(event.Payload), event.OccurredAt)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("outbox: insert event batch: %w", err)
		}
	}

	return nil
}

func (r *PostgresRepository) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `
SELECT id, topic, payload, occurred_at, was_quarantined
FROM domain_events
WHERE status <> 'published' AND was_quarantined = false
ORDER BY occurred_at ASC, id ASC
LIMIT $1
`
	events, err := r.queryEvents(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list unpublished: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) ListQuarantined(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `
SELECT id, topic, payload, occurred_at, was_quarantined
FROM domain_events
WHERE was_quarantined = true
ORDER BY occurred_at ASC, id ASC
LIMIT $1
`
	events, err := r.queryEvents(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list quarantined: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	index := map[string]int{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.OccurredAt, &e.WasQuarantined); err != nil {
			return nil, err
		}
		index[e.ID] = len(events)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return events, nil
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	if err := r.attachPublications(ctx, events, index, ids); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *PostgresRepository) attachPublications(ctx context.Context, events []Event, index map[string]int, ids []string) error {
	const q = `
SELECT p.event_id, p.id, p.published_at,
       f.subscriber_id, f.error_message, f.permanent, f.occurred_at
FROM event_publications p
LEFT JOIN publication_failures f ON f.publication_id = p.id
WHERE p.event_id = ANY($1)
ORDER BY p.event_id, p.id, f.id
`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	lastPub := map[string]int64{}
	for rows.Next() {
		var (
			eventID      string
			pubID        int64
			publishedAt  time.Time
			subscriberID *string
			errorMessage *string
			permanent    *bool
			failedAt     *time.Time
		)
		if err := rows.Scan(&eventID, &pubID, &publishedAt, &subscriberID, &errorMessage, &permanent, &failedAt); err != nil {
			return err
		}

		i, ok := index[eventID]
		if !ok {
			continue
		}

		if lastPub[eventID] != pubID {
			lastPub[eventID] = pubID
			events[i].Publications = append(events[i].Publications, Publication{PublishedAt: publishedAt})
		}

		if subscriberID != nil {
			pubs := events[i].Publications
			pubs[len(pubs)-1].Failures = append(pubs[len(pubs)-1].Failures, PublicationFailure{
				SubscriberID: *subscriberID,
				ErrorMessage: *errorMessage,
				Permanent:    permanent != nil && *permanent,
				OccurredAt:   *failedAt,
			})
		}
	}

	return rows.Err()
}

func (r *PostgresRepository) RecordPublication(ctx context.Context, eventID string, pub Publication, quarantine bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin record publication: %w", err)
	}
	defer tx.Rollback(ctx)

	var pubID int64
	if err := tx.QueryRow(ctx, `
INSERT INTO event_publications (event_id, published_at)
VALUES ($1, $2)
RETURNING id
`, eventID, pub.PublishedAt).Scan(&pubID); err != nil {
		return fmt.Errorf("outbox: insert publication: %w", err)
	}

	for _, f := range pub.Failures {
		if _, err := tx.Exec(ctx, `
INSERT INTO publication_failures (publication_id, subscriber_id, error_message, permanent, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, pubID, f.SubscriberID, f.ErrorMessage, f.Permanent, f.OccurredAt); err != nil {
			return fmt.Errorf("outbox: insert publication failure: %w", err)
		}
	}

	status := StatusPublished
	if len(pub.Failures) > 0 {
		status = StatusInProgress
	}

	tag, err := tx.Exec(ctx, `
UPDATE domain_events
SET status = $1,
    was_quarantined = was_quarantined OR $2
WHERE id = $3
`, string(status), quarantine, eventID)
	if err != nil {
		return fmt.Errorf("outbox: update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit record publication: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RequeueQuarantined(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE domain_events
SET was_quarantined = false
WHERE id = $1 AND was_quarantined = true
`, eventID)
	if err != nil {
		return fmt.Errorf("outbox: requeue quarantined: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM domain_events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
			return fmt.Errorf("outbox: requeue quarantined: %w", err)
		}
		if !exists {
			return ErrEventNotFound
		}
		return ErrNotQuarantined
	}
	return nil
}

func (r *PostgresRepository) HasEventForConvention(ctx context.Context, topic, conventionID string) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM domain_events
    WHERE topic = $1 AND payload ->> 'conventionId' = $2
)
`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, topic, conventionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("outbox: has event for convention: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) DeleteOldPublished(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("outbox: delete limit must be positive")
	}

	const q = `
DELETE FROM domain_events
WHERE id IN (
    SELECT id FROM domain_events
    WHERE status = 'published' AND occurred_at <= $1
    ORDER BY occurred_at ASC
    LIMIT $2
)
`
	tag, err := r.pool.Exec(ctx, q, before, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: delete old published: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetByID loads one event with its full publication history.
func (r *PostgresRepository) GetByID(ctx context.Context, eventID string) (Event, error) {
	const q = `
SELECT id, topic, payload, occurred_at, was_quarantined
FROM domain_events
WHERE id = $1
`
	events, err := r.queryEvents(ctx, q, eventID)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: get event: %w", err)
	}
	if len(events) == 0 {
		return Event{}, ErrEventNotFound
	}
	return events[0], nil
}

var _ Repository = (*PostgresRepository)(nil)
