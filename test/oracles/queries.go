package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_signature_before_submission",
			SQL: `SELECT s.convention_id, s.role FROM convention_signatories s
                  JOIN conventions c ON c.id = s.convention_id
                  WHERE s.signed_at IS NOT NULL AND c.date_submitted IS NULL`,
		},
		{
			Name: "O2_validated_has_timestamp",
			SQL: `SELECT id FROM conventions
                  WHERE status = 'VALIDATED' AND date_validated IS NULL`,
		},
		{
			Name: "O3_review_requires_all_required_signatures",
			SQL: `SELECT c.id FROM conventions c
                  WHERE c.status IN ('IN_REVIEW','ACCEPTED_BY_COUNSELLOR','ACCEPTED_BY_VALIDATOR','VALIDATED')
                    AND EXISTS (
                        SELECT 1 FROM convention_signatories s
                        WHERE s.convention_id = c.id AND s.required AND s.signed_at IS NULL)`,
		},
		{
			Name: "O4_published_event_has_publication",
			SQL: `SELECT e.id FROM domain_events e
                  WHERE e.status = 'published'
                    AND NOT EXISTS (SELECT 1 FROM event_publications p WHERE p.event_id = e.id)`,
		},
		{
			Name: "O5_quarantine_implies_failures",
			SQL: `SELECT e.id FROM domain_events e
                  WHERE e.was_quarantined
                    AND NOT EXISTS (
                        SELECT 1 FROM event_publications p
                        JOIN publication_failures f ON f.publication_id = p.id
                        WHERE p.event_id = e.id)`,
		},
		{
			Name: "O6_sync_outcome_consistency",
			SQL: `SELECT id, status FROM conventions_to_sync
                  WHERE (status = 'SUCCESS' AND process_date IS NULL)
                     OR (status IN ('ERROR','SKIP') AND reason IS NULL)`,
		},
		{
			Name: "O7_sync_only_for_validated",
			SQL: `SELECT s.id FROM conventions_to_sync s
                  WHERE NOT EXISTS (
                      SELECT 1 FROM conventions c
                      WHERE c.id = s.id AND c.date_validated IS NOT NULL)`,
		},
		{
			Name: "O8_single_assessment_reminder",
			SQL: `SELECT payload->>'conventionId', COUNT(*) FROM domain_events
                  WHERE topic = 'notification.assessment_reminder_queued'
                  GROUP BY payload->>'conventionId' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_timestamps_monotonic",
			SQL:  `SELECT id FROM conventions WHERE updated_at < created_at`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
