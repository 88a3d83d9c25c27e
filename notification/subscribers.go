package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"immersion/actor"
	"immersion/convention"
	"immersion/outbox"
)

// ConventionReader is the read access the fan-out needs on conventions.
type ConventionReader interface {
	Get(ctx context.Context, id string) (convention.Convention, error)
}

// ConventionNotifier subscribes to convention lifecycle topics and queues
// the matching notifications. Queueing runs in its own transaction; the
// dispatcher retries the whole handler if anything fails before commit.
type ConventionNotifier struct {
	pool        convention.TxBeginner
	conventions ConventionReader
	svc         *Service
}

func NewConventionNotifier(pool convention.TxBeginner, conventions ConventionReader, svc *Service) *ConventionNotifier {
	return &ConventionNotifier{pool: pool, conventions: conventions, svc: svc}
}

// RegisterAll wires every lifecycle subscriber plus the sender into the
// registry.
func (cn *ConventionNotifier) RegisterAll(registry *outbox.Registry, sender *Sender) error {
	for _, topic := range sender.Topics() {
		if err := registry.Register(topic, sender); err != nil {
			return err
		}
	}

	subscriptions := map[string]func(ctx context.Context, event outbox.Event) error{
		convention.TopicSubmitted:           cn.onSubmitted,
		convention.TopicFullySigned:         cn.onFullySigned,
		convention.TopicModificationRequest: cn.onModificationRequested,
		convention.TopicValidated:           cn.onValidated,
		convention.TopicRejected:            cn.onRejected,
		convention.TopicCancelled:           cn.onCancelled,
	}
	for topic, fn := range subscriptions {
		sub := outbox.SubscriberFunc{SubscriberID: "convention-notifier", Fn: fn}
		if err := registry.Register(topic, sub); err != nil {
			return err
		}
	}
	return nil
}

func (cn *ConventionNotifier) onSubmitted(ctx context.Context, event outbox.Event) error {
	var payload convention.SubmittedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanentDelivery, event.Topic, err)
	}
	return cn.queueForConvention(ctx, payload.ConventionID, TemplateSignatureRequested, signingRecipients, nil)
}

func (cn *ConventionNotifier) onFullySigned(ctx context.Context, event outbox.Event) error {
	var payload convention.FullySignedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanentDelivery, event.Topic, err)
	}
	return cn.queueForConvention(ctx, payload.ConventionID, TemplateFullySigned, signingRecipients, nil)
}

func (cn *ConventionNotifier) onModificationRequested(ctx context.Context, event outbox.Event) error {
	var payload convention.ModificationRequestPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanentDelivery, event.Topic, err)
	}
	params := map[string]string{"justification": payload.Justification}
	return cn.queueForConvention(ctx, payload.ConventionID, TemplateModificationNeeded, signingRecipients, params)
}

func (cn *ConventionNotifier) onValidated(ctx context.Context, event outbox.Event) error {
	return cn.onStatusChanged(ctx, event, TemplateValidated)
}

func (cn *ConventionNotifier) onRejected(ctx context.Context, event outbox.Event) error {
	return cn.onStatusChanged(ctx, event, TemplateRejected)
}

func (cn *ConventionNotifier) onCancelled(ctx context.Context, event outbox.Event) error {
	return cn.onStatusChanged(ctx, event, TemplateCancelled)
}

func (cn *ConventionNotifier) onStatusChanged(ctx context.Context, event outbox.Event, template string) error {
	var payload convention.StatusChangedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", outbox.ErrPermanentDelivery, event.Topic, err)
	}
	var params map[string]string
	if payload.Justification != "" {
		params = map[string]string{"justification": payload.Justification}
	}
	return cn.queueForConvention(ctx, payload.ConventionID, template, allPartyRecipients, params)
}

func (cn *ConventionNotifier) queueForConvention(ctx context.Context, conventionID, template string, recipients func(convention.Convention) []string, params map[string]string) error {
	c, err := cn.conventions.Get(ctx, conventionID)
	if err != nil {
		if isMissingConvention(err) {
			return fmt.Errorf("%w: convention %s not found", outbox.ErrPermanentDelivery, conventionID)
		}
		return fmt.Errorf("%w: load convention %s: %v", outbox.ErrTransientDelivery, conventionID, err)
	}

	to := recipients(c)
	if len(to) == 0 {
		// A convention always carries parties; an empty set means the data
		// is unusable, not that the broker hiccuped.
		return fmt.Errorf("%w: convention %s has no recipients for %s", outbox.ErrPermanentDelivery, conventionID, template)
	}

	var rawParams json.RawMessage
	if len(params) > 0 {
		rawParams, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%w: marshal params: %v", outbox.ErrPermanentDelivery, err)
		}
	}

	tx, err := cn.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := cn.svc.QueueTx(ctx, tx, Notification{
		Kind:         KindEmail,
		Template:     template,
		ConventionID: conventionID,
		Recipients:   to,
		Params:       rawParams,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notification: commit queue: %w", err)
	}
	return nil
}

// signingRecipients addresses the parties that hold a pen.
func signingRecipients(c convention.Convention) []string {
	var out []string
	for _, s := range c.Signatories {
		if s.Role == actor.RoleEstablishmentTutor {
			continue
		}
		out = append(out, s.Email)
	}
	return out
}

// allPartyRecipients addresses every party, tutor included.
func allPartyRecipients(c convention.Convention) []string {
	out := make([]string, 0, len(c.Signatories))
	for _, s := range c.Signatories {
		out = append(out, s.Email)
	}
	return out
}

func isMissingConvention(err error) bool {
	return errors.Is(err, convention.ErrNotFound)
}
