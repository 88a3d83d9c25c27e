package notification

import (
	"encoding/json"
	"time"
)

// Kind is the delivery channel of a notification.
type Kind string

const (
	KindEmail Kind = "email"
	KindSMS   Kind = "sms"
)

// Template names the message body a notification renders. Rendering happens
// in the gateways; this package only records what to send to whom.
const (
	TemplateSignatureRequested = "signature_requested"
	TemplateFullySigned        = "fully_signed"
	TemplateValidated          = "convention_validated"
	TemplateRejected           = "convention_rejected"
	TemplateCancelled          = "convention_cancelled"
	TemplateModificationNeeded = "modification_requested"
	TemplateAssessmentReminder = "assessment_reminder"
)

// Notification is one outgoing message, persisted before any gateway is
// contacted so deliveries survive a crash and stay auditable.
type Notification struct {
	ID           string
	Kind         Kind
	Template     string
	ConventionID string
	Recipients   []string
	Params       json.RawMessage
	CreatedAt    time.Time
}
