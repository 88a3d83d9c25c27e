package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"immersion/outbox"
)

// EmailGateway delivers one email notification. Implementations classify
// their errors with outbox.ErrTransientDelivery or outbox.ErrPermanentDelivery
// so the dispatcher knows whether retrying can help.
type EmailGateway interface {
	SendEmail(ctx context.Context, n Notification) error
}

// SMSGateway delivers one SMS notification.
type SMSGateway interface {
	SendSMS(ctx context.Context, n Notification) error
}

// Sender is the outbox subscriber that turns queued events into gateway
// calls. Gateways must tolerate re-delivery: the outbox is at-least-once.
type Sender struct {
	repo   Repository
	email  EmailGateway
	sms    SMSGateway
	logger *zap.Logger
}

func NewSender(repo Repository, email EmailGateway, sms SMSGateway, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{repo: repo, email: email, sms: sms, logger: logger}
}

func (s *Sender) ID() string { return "notification-sender" }

// Topics lists the queued topics the sender must be registered for.
func (s *Sender) Topics() []string {
	return []string{TopicQueued, TopicReminderQueued}
}

func (s *Sender) Handle(ctx context.Context, event outbox.Event) error {
	var payload QueuedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanentDelivery, event.Topic, err)
	}

	n, err := s.repo.Get(ctx, payload.NotificationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The notification row commits with the event, so a missing row
			// will not appear on retry either.
			return fmt.Errorf("%w: notification %s not found", outbox.ErrPermanentDelivery, payload.NotificationID)
		}
		return fmt.Errorf("%w: load notification %s: %v", outbox.ErrTransientDelivery, payload.NotificationID, err)
	}

	switch n.Kind {
	case KindEmail:
		err = s.email.SendEmail(ctx, n)
	case KindSMS:
		err = s.sms.SendSMS(ctx, n)
	default:
		return fmt.Errorf("%w: unknown notification kind %q", outbox.ErrPermanentDelivery, n.Kind)
	}
	if err != nil {
		return fmt.Errorf("send %s %s: %w", n.Kind, n.Template, err)
	}

	s.logger.Info("notification sent",
		zap.String("notificationId", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("template", n.Template),
		zap.Int("recipients", len(n.Recipients)))
	return nil
}

var _ outbox.Subscriber = (*Sender)(nil)
