package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"immersion/actor"
	"immersion/convention"
	"immersion/outbox"
)

// EndingConventionLister finds validated conventions whose immersion ends on
// a given day.
type EndingConventionLister interface {
	ListValidatedEndingOn(ctx context.Context, day time.Time) ([]convention.Convention, error)
}

// AssessmentReminder asks tutors to fill the end-of-immersion assessment.
// It deduplicates on the event store: one reminder-queued event per
// convention, ever, no matter how often the job runs.
type AssessmentReminder struct {
	pool        convention.TxBeginner
	conventions EndingConventionLister
	outbox      outbox.Repository
	svc         *Service
	logger      *zap.Logger
	now         func() time.Time
}

func NewAssessmentReminder(pool convention.TxBeginner, conventions EndingConventionLister, outboxRepo outbox.Repository, svc *Service, logger *zap.Logger) *AssessmentReminder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentReminder{
		pool:        pool,
		conventions: conventions,
		outbox:      outboxRepo,
		svc:         svc,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *AssessmentReminder) WithClock(now func() time.Time) *AssessmentReminder {
	r.now = now
	return r
}

// Run queues reminders for conventions ending today. It returns the number
// of reminders queued by this run.
func (r *AssessmentReminder) Run(ctx context.Context) (int, error) {
	day := r.now().UTC().Truncate(24 * time.Hour)

	ending, err := r.conventions.ListValidatedEndingOn(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("notification: list ending conventions: %w", err)
	}

	queued := 0
	for _, c := range ending {
		sent, err := r.outbox.HasEventForConvention(ctx, TopicReminderQueued, c.ID)
		if err != nil {
			return queued, fmt.Errorf("notification: reminder dedup check: %w", err)
		}
		if sent {
			continue
		}

		tutor := c.Signatory(actor.RoleEstablishmentTutor)
		if tutor == nil {
			r.logger.Warn("convention without tutor, skipping reminder", zap.String("conventionId", c.ID))
			continue
		}

		if err := r.queue(ctx, c.ID, tutor.Email); err != nil {
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		r.logger.Info("assessment reminders queued", zap.Int("count", queued))
	}
	return queued, nil
}

func (r *AssessmentReminder) queue(ctx context.Context, conventionID, tutorEmail string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := r.svc.QueueReminderTx(ctx, tx, Notification{
		Kind:         KindEmail,
		Template:     TemplateAssessmentReminder,
		ConventionID: conventionID,
		Recipients:   []string{tutorEmail},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notification: commit reminder: %w", err)
	}
	return nil
}
