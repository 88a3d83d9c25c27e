package notification

import "errors"

const (
	// TopicQueued announces a notification waiting for gateway delivery.
	TopicQueued = "notification.queued"
	// TopicReminderQueued is the queued topic specific to assessment
	// reminders, kept separate so the reminder job can deduplicate per
	// convention on the event store alone.
	TopicReminderQueued = "notification.assessment_reminder_queued"
)

// QueuedPayload points the sender at a persisted notification. The
// convention id rides along for per-convention lookups.
type QueuedPayload struct {
	topic string

	NotificationID string `json:"notificationId"`
	ConventionID   string `json:"conventionId,omitempty"`
	Kind           Kind   `json:"kind"`
}

func NewQueuedPayload(n Notification) QueuedPayload {
	return QueuedPayload{
		topic:          TopicQueued,
		NotificationID: n.ID,
		ConventionID:   n.ConventionID,
		Kind:           n.Kind,
	}
}

func NewReminderQueuedPayload(n Notification) QueuedPayload {
	p := NewQueuedPayload(n)
	p.topic = TopicReminderQueued
	return p
}

func (p QueuedPayload) EventTopic() string { return p.topic }

func (p QueuedPayload) Validate() error {
	if p.NotificationID == "" {
		return errors.New("notification id is required")
	}
	if p.Kind != KindEmail && p.Kind != KindSMS {
		return errors.New("unknown notification kind")
	}
	return nil
}
