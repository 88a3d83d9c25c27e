package convention

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"immersion/actor"
	"immersion/outbox"
)

// One topic per transition kind; one payload schema per topic.
const (
	TopicSubmitted            = "convention.submitted"
	TopicSignatureRecorded    = "convention.signature_recorded"
	TopicFullySigned          = "convention.fully_signed"
	TopicModificationRequest  = "convention.modification_requested"
	TopicAcceptedByCounsellor = "convention.accepted_by_counsellor"
	TopicAcceptedByValidator  = "convention.accepted_by_validator"
	TopicValidated            = "convention.validated"
	TopicRejected             = "convention.rejected"
	TopicCancelled            = "convention.cancelled"
	TopicDeprecated           = "convention.deprecated"
)

// SubmittedPayload announces a draft became signable.
type SubmittedPayload struct {
	ConventionID string    `json:"conventionId"`
	AgencyID     string    `json:"agencyId"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

func (p SubmittedPayload) EventTopic() string { return TopicSubmitted }

func (p SubmittedPayload) Validate() error {
	if p.ConventionID == "" || p.AgencyID == "" {
		return errors.New("convention and agency ids are required")
	}
	return nil
}

// SignatureRecordedPayload announces one signature that did not yet complete
// the required set.
type SignatureRecordedPayload struct {
	ConventionID string     `json:"conventionId"`
	Role         actor.Role `json:"role"`
	SignedAt     time.Time  `json:"signedAt"`
}

func (p SignatureRecordedPayload) EventTopic() string { return TopicSignatureRecorded }

func (p SignatureRecordedPayload) Validate() error {
	if p.ConventionID == "" {
		return errors.New("convention id is required")
	}
	if !p.Role.IsSignatory() {
		return fmt.Errorf("role %q cannot sign", p.Role)
	}
	return nil
}

// FullySignedPayload announces the last required signature moved the
// convention into review.
type FullySignedPayload struct {
	ConventionID string     `json:"conventionId"`
	Role         actor.Role `json:"role"`
	SignedAt     time.Time  `json:"signedAt"`
}

func (p FullySignedPayload) EventTopic() string { return TopicFullySigned }

func (p FullySignedPayload) Validate() error {
	if p.ConventionID == "" {
		return errors.New("convention id is required")
	}
	if !p.Role.IsSignatory() {
		return fmt.Errorf("role %q cannot sign", p.Role)
	}
	return nil
}

// ModificationRequestPayload announces a reviewer sent a partially signed
// convention back for edits, voiding the signatures already recorded.
type ModificationRequestPayload struct {
	ConventionID  string `json:"conventionId"`
	ActorID       string `json:"actorId,omitempty"`
	Justification string `json:"justification"`
}

func (p ModificationRequestPayload) EventTopic() string { return TopicModificationRequest }

func (p ModificationRequestPayload) Validate() error {
	if p.ConventionID == "" {
		return errors.New("convention id is required")
	}
	if p.Justification == "" {
		return errors.New("justification is required")
	}
	return nil
}

// StatusChangedPayload is shared by the acceptance, validation, rejection,
// cancellation and deprecation topics: same schema, different topic tag.
type StatusChangedPayload struct {
	topic string

	ConventionID  string `json:"conventionId"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	ActorID       string `json:"actorId,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// NewStatusChangedPayload builds the payload for a transition into next.
// The topic follows from the target status.
func NewStatusChangedPayload(conventionID string, from, next Status, actorID, justification string) StatusChangedPayload {
	return StatusChangedPayload{
		topic:         statusTopic(next),
		ConventionID:  conventionID,
		From:          from,
		To:            next,
		ActorID:       actorID,
		Justification: justification,
	}
}

func (p StatusChangedPayload) EventTopic() string { return p.topic }

func (p StatusChangedPayload) Validate() error {
	if p.ConventionID == "" {
		return errors.New("convention id is required")
	}
	if !p.From.IsValid() || !p.To.IsValid() {
		return fmt.Errorf("invalid status pair %s -> %s", p.From, p.To)
	}
	if p.To.requiresJustification() && p.Justification == "" {
		return errors.New("justification is required")
	}
	return nil
}

func statusTopic(to Status) string {
	switch to {
	case StatusAcceptedByCounsellor:
		return TopicAcceptedByCounsellor
	case StatusAcceptedByValidator:
		return TopicAcceptedByValidator
	case StatusValidated:
		return TopicValidated
	case StatusRejected:
		return TopicRejected
	case StatusCancelled:
		return TopicCancelled
	case StatusDeprecated:
		return TopicDeprecated
	default:
		return ""
	}
}

// DecodePayload maps a persisted event back to its typed payload. The topic
// set is closed: unknown topics are an error, not a silent passthrough.
func DecodePayload(topic string, raw json.RawMessage) (outbox.Payload, error) {
	unmarshal := func(v outbox.Payload) (outbox.Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("convention: decode %s payload: %w", topic, err)
		}
		return v, nil
	}

	switch topic {
	case TopicSubmitted:
		return unmarshal(&SubmittedPayload{})
	case TopicSignatureRecorded:
		return unmarshal(&SignatureRecordedPayload{})
	case TopicFullySigned:
		return unmarshal(&FullySignedPayload{})
	case TopicModificationRequest:
		return unmarshal(&ModificationRequestPayload{})
	case TopicAcceptedByCounsellor, TopicAcceptedByValidator, TopicValidated,
		TopicRejected, TopicCancelled, TopicDeprecated:
		p := &StatusChangedPayload{topic: topic}
		return unmarshal(p)
	default:
		return nil, fmt.Errorf("convention: unknown topic %q", topic)
	}
}
