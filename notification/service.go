package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/outbox"
)

// Service persists a notification and its queued event in one transaction.
// The sender only ever sees notifications whose row is already committed.
type Service struct {
	repo        Repository
	outbox      outbox.Repository
	events      *outbox.Factory
	now         func() time.Time
	idGenerator func() string
}

func NewService(repo Repository, outboxRepo outbox.Repository) *Service {
	s := &Service{
		repo:        repo,
		outbox:      outboxRepo,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
	s.events = outbox.NewFactory()
	s.syncFactory()
	return s
}

func (s *Service) syncFactory() {
	s.events.WithClock(s.now).WithIDGenerator(s.idGenerator)
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.syncFactory()
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	s.syncFactory()
	return s
}

// QueueTx saves the notification and appends its queued event inside the
// caller's transaction.
func (s *Service) QueueTx(ctx context.Context, tx pgx.Tx, n Notification) (Notification, error) {
	return s.queueTx(ctx, tx, n, false)
}

// QueueReminderTx is QueueTx under the reminder-specific topic.
func (s *Service) QueueReminderTx(ctx context.Context, tx pgx.Tx, n Notification) (Notification, error) {
	return s.queueTx(ctx, tx, n, true)
}

func (s *Service) queueTx(ctx context.Context, tx pgx.Tx, n Notification, reminder bool) (Notification, error) {
	if len(n.Recipients) == 0 {
		return Notification{}, fmt.Errorf("notification: no recipients for template %s", n.Template)
	}
	if n.Template == "" {
		return Notification{}, fmt.Errorf("notification: template is required")
	}

	n.ID = s.idGenerator()
	n.CreatedAt = s.now().UTC()
	if n.Kind == "" {
		n.Kind = KindEmail
	}

	if err := s.repo.Insert(ctx, tx, n); err != nil {
		return Notification{}, err
	}

	payload := NewQueuedPayload(n)
	if reminder {
		payload = NewReminderQueuedPayload(n)
	}
	event, err := s.events.Create(payload)
	if err != nil {
		return Notification{}, err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return Notification{}, err
	}

	return n, nil
}
