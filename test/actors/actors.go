package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DraftCreator keeps inserting fresh draft conventions with their parties and
// submits some of them, so the table never settles.
func DraftCreator(ctx context.Context, pool *pgxpool.Pool, agencyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var convID string
		err = tx.QueryRow(ctx, `INSERT INTO conventions (agency_id, siret, date_start, date_end)
                                 VALUES ($1, '13002526500013', CURRENT_DATE, CURRENT_DATE + 14)
                                 RETURNING id`, agencyID).Scan(&convID)
		if err == nil {
			_, err = tx.Exec(ctx, `INSERT INTO convention_signatories (convention_id, role, required, first_name, last_name, email) VALUES
                ($1, 'beneficiary', true, 'Nora', 'Benali', 'nora@example.com'),
                ($1, 'establishment-representative', true, 'Paul', 'Girard', 'paul@example.com'),
                ($1, 'establishment-tutor', false, 'Ines', 'Robert', 'ines@example.com')`, convID)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				time.Sleep(20 * time.Millisecond)
				continue
			}
			return fmt.Errorf("draft creator: %w", err)
		}
		if rand.Intn(2) == 0 {
			_, _ = tx.Exec(ctx, `UPDATE conventions SET status='READY_TO_SIGN', date_submitted=now(), updated_at=now() WHERE id=$1`, convID)
			_, _ = tx.Exec(ctx, `INSERT INTO domain_events (id, topic, payload, occurred_at)
                                 VALUES (gen_random_uuid(), 'convention.submitted', jsonb_build_object('conventionId', $1::text), now())`, convID)
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Signer records one party's signature on the contested convention under a row
// lock, recomputing the status from the required set. Re-signing is a no-op.
func Signer(ctx context.Context, pool *pgxpool.Pool, conventionID, role string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM conventions WHERE id=$1 FOR UPDATE`, conventionID).Scan(&status)
		if err == nil && (status == "READY_TO_SIGN" || status == "PARTIALLY_SIGNED") {
			ct, execErr := tx.Exec(ctx, `UPDATE convention_signatories SET signed_at=now()
                                         WHERE convention_id=$1 AND role=$2::signatory_role AND signed_at IS NULL`, conventionID, role)
			if execErr == nil && ct.RowsAffected() == 1 {
				var allSigned bool
				_ = tx.QueryRow(ctx, `SELECT NOT EXISTS (
                                          SELECT 1 FROM convention_signatories
                                          WHERE convention_id=$1 AND required AND signed_at IS NULL)`, conventionID).Scan(&allSigned)
				next := "PARTIALLY_SIGNED"
				topic := "convention.signature_recorded"
				if allSigned {
					next = "IN_REVIEW"
					topic = "convention.fully_signed"
				}
				_, _ = tx.Exec(ctx, `UPDATE conventions SET status=$2::convention_status, updated_at=now() WHERE id=$1`, conventionID, next)
				_, _ = tx.Exec(ctx, `INSERT INTO domain_events (id, topic, payload, occurred_at)
                                     VALUES (gen_random_uuid(), $2, jsonb_build_object('conventionId', $1::text, 'role', $3), now())`, conventionID, topic, role)
				if err := tx.Commit(ctx); err == nil {
					time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
					continue
				}
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Reviewer walks reviewable conventions through the agency steps and enrolls
// validated ones into the partner ledger.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	steps := map[string]string{
		"IN_REVIEW":              "ACCEPTED_BY_COUNSELLOR",
		"ACCEPTED_BY_COUNSELLOR": "ACCEPTED_BY_VALIDATOR",
		"ACCEPTED_BY_VALIDATOR":  "VALIDATED",
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var convID, status string
		err = tx.QueryRow(ctx, `SELECT id, status FROM conventions
                                WHERE status IN ('IN_REVIEW','ACCEPTED_BY_COUNSELLOR','ACCEPTED_BY_VALIDATOR')
                                LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&convID, &status)
		if err == nil {
			next := steps[status]
			if next == "VALIDATED" {
				_, _ = tx.Exec(ctx, `UPDATE conventions SET status='VALIDATED', date_validated=now(), updated_at=now() WHERE id=$1`, convID)
				_, _ = tx.Exec(ctx, `INSERT INTO conventions_to_sync (id, status)
                                     VALUES ($1, 'TO_PROCESS')
                                     ON CONFLICT (id) DO UPDATE SET status='TO_PROCESS', process_date=NULL, reason=NULL, updated_at=now()`, convID)
				_, _ = tx.Exec(ctx, `INSERT INTO domain_events (id, topic, payload, occurred_at)
                                     VALUES (gen_random_uuid(), 'convention.validated', jsonb_build_object('conventionId', $1::text), now())`, convID)
			} else {
				_, _ = tx.Exec(ctx, `UPDATE conventions SET status=$2::convention_status, updated_at=now() WHERE id=$1`, convID, next)
			}
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains unpublished events with SKIP LOCKED, recording a
// publication per pass and a failure row when delivery flakes.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM domain_events
                                    WHERE status <> 'published' AND was_quarantined = false
                                    ORDER BY occurred_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			var pubID int64
			if err := tx.QueryRow(ctx, `INSERT INTO event_publications (event_id, published_at) VALUES ($1, now()) RETURNING id`, id).Scan(&pubID); err != nil {
				continue
			}
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `INSERT INTO publication_failures (publication_id, subscriber_id, error_message, occurred_at)
                                     VALUES ($1, 'stress-subscriber', 'injected failure', now())`, pubID)
				_, _ = tx.Exec(ctx, `UPDATE domain_events SET status='in-progress' WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE domain_events SET status='published' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// SyncWorker re-drives the partner ledger: TO_PROCESS and ERROR rows get an
// attempt, SKIP and SUCCESS rows are left alone.
func SyncWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var convID string
		err = tx.QueryRow(ctx, `SELECT id FROM conventions_to_sync
                                WHERE status IN ('TO_PROCESS','ERROR')
                                ORDER BY CASE status WHEN 'TO_PROCESS' THEN 0 ELSE 1 END, created_at
                                LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&convID)
		if err == nil {
			if rand.Intn(4) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE conventions_to_sync SET status='ERROR', process_date=now(), reason='partner unavailable', updated_at=now() WHERE id=$1`, convID)
			} else {
				_, _ = tx.Exec(ctx, `UPDATE conventions_to_sync SET status='SUCCESS', process_date=now(), reason=NULL, updated_at=now() WHERE id=$1`, convID)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, context.Canceled) {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		_ = tx.Commit(ctx)
		time.Sleep(80 * time.Millisecond)
	}
}

// ReminderWriter races to queue the single assessment reminder for one
// convention; the NOT EXISTS guard plus the row lock must keep it unique.
func ReminderWriter(ctx context.Context, pool *pgxpool.Pool, conventionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		_, _ = tx.Exec(ctx, `SELECT id FROM conventions WHERE id=$1 FOR UPDATE`, conventionID)
		_, _ = tx.Exec(ctx, `INSERT INTO domain_events (id, topic, payload, occurred_at)
                             SELECT gen_random_uuid(), 'notification.assessment_reminder_queued',
                                    jsonb_build_object('conventionId', $1::text), now()
                             WHERE NOT EXISTS (
                                 SELECT 1 FROM domain_events
                                 WHERE topic='notification.assessment_reminder_queued'
                                   AND payload->>'conventionId' = $1)`, conventionID)
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(60+rand.Intn(80)) * time.Millisecond)
	}
}
