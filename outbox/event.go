package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is derived from the publication history of an event.
type Status string

const (
	StatusNeverPublished Status = "never-published"
	StatusInProgress     Status = "in-progress"
	StatusPublished      Status = "published"
)

// Payload is a topic-tagged event body. Each topic has exactly one payload
// type; Validate runs before the event is accepted into the outbox.
type Payload interface {
	EventTopic() string
	Validate() error
}

// PublicationFailure records one subscriber failing one publication attempt.
type PublicationFailure struct {
	SubscriberID string    `json:"subscriberId"`
	ErrorMessage string    `json:"errorMessage"`
	OccurredAt   time.Time `json:"occurredAt"`

	// Permanent accelerates quarantine and is not part of the serialized
	// wire shape.
	Permanent bool `json:"-"`
}

// Publication is one dispatcher pass over an event.
type Publication struct {
	PublishedAt time.Time            `json:"publishedAt"`
	Failures    []PublicationFailure `json:"failures"`
}

// Event is an immutable domain event owned by the outbox store.
type Event struct {
	ID             string          `json:"id"`
	Topic          string          `json:"topic"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Publications   []Publication   `json:"publications"`
	WasQuarantined bool            `json:"wasQuarantined"`
}

// Status derives the delivery state from the publication history.
func (e *Event) Status() Status {
	if len(e.Publications) == 0 {
		return StatusNeverPublished
	}
	if len(e.Publications[len(e.Publications)-1].Failures) == 0 {
		return StatusPublished
	}
	return StatusInProgress
}

// FailedSubscriberIDs returns the subscribers that failed the latest
// publication, in failure order. A retry pass only re-invokes these.
func (e *Event) FailedSubscriberIDs() []string {
	if len(e.Publications) == 0 {
		return nil
	}
	last := e.Publications[len(e.Publications)-1]
	ids := make([]string, 0, len(last.Failures))
	for _, f := range last.Failures {
		ids = append(ids, f.SubscriberID)
	}
	return ids
}

// failureWeight counts failures of one subscriber across all publications.
// A permanent failure consumes the whole budget at once.
func (e *Event) failureWeight(subscriberID string, budget int, extra []PublicationFailure) int {
	weight := 0
	count := func(f PublicationFailure) {
		if f.SubscriberID != subscriberID {
			return
		}
		if f.Permanent {
			weight += budget + 1
			return
		}
		weight++
	}
	for _, pub := range e.Publications {
		for _, f := range pub.Failures {
			count(f)
		}
	}
	for _, f := range extra {
		count(f)
	}
	return weight
}

// ShouldQuarantine reports whether, after appending the given failures as a
// new publication, every still-failing subscriber has exhausted the retry
// budget.
func (e *Event) ShouldQuarantine(newFailures []PublicationFailure, budget int) bool {
	if len(newFailures) == 0 {
		return false
	}
	for _, f := range newFailures {
		if e.failureWeight(f.SubscriberID, budget, newFailures) <= budget {
			return false
		}
	}
	return true
}

// Factory builds events with injected time and id providers so event streams
// are deterministic under test.
type Factory struct {
	now   func() time.Time
	newID func() string
}

func NewFactory() *Factory {
	return &Factory{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

func (f *Factory) WithIDGenerator(gen func() string) *Factory {
	f.newID = gen
	return f
}

// Create maps a payload to a stamped event. It performs no I/O.
func (f *Factory) Create(p Payload) (Event, error) {
	if p == nil {
		return Event{}, fmt.Errorf("outbox: nil payload")
	}
	if p.EventTopic() == "" {
		return Event{}, fmt.Errorf("outbox: payload has empty topic")
	}
	if err := p.Validate(); err != nil {
		return Event{}, fmt.Errorf("outbox: invalid %s payload: %w", p.EventTopic(), err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: marshal %s payload: %w", p.EventTopic(), err)
	}

	return Event{
		ID:         f.newID(),
		Topic:      p.EventTopic(),
		Payload:    body,
		OccurredAt: f.now().UTC(),
	}, nil
}
