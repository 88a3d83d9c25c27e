package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Subscriber reacts to one event. Implementations must be idempotent: a
// publication can be recorded lost after a successful side effect, in which
// case the subscriber runs again on the next pass.
type Subscriber interface {
	ID() string
	Handle(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc struct {
	SubscriberID string
	Fn           func(ctx context.Context, event Event) error
}

func (s SubscriberFunc) ID() string { return s.SubscriberID }

func (s SubscriberFunc) Handle(ctx context.Context, event Event) error {
	return s.Fn(ctx, event)
}

// Registry maps topics to their ordered subscribers.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subscribers: map[string][]Subscriber{}}
}

func (r *Registry) Register(topic string, sub Subscriber) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	if sub == nil || sub.ID() == "" {
		return fmt.Errorf("outbox: subscriber with empty id for topic %s", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subscribers[topic] {
		if existing.ID() == sub.ID() {
			return fmt.Errorf("outbox: subscriber %s already registered for topic %s", sub.ID(), topic)
		}
	}
	r.subscribers[topic] = append(r.subscribers[topic], sub)
	return nil
}

func (r *Registry) For(topic string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Subscriber(nil), r.subscribers[topic]...)
}

// DispatcherConfig bounds one dispatch pass.
type DispatcherConfig struct {
	BatchSize         int
	RetryBudget       int
	SubscriberTimeout time.Duration
	PollInterval      time.Duration
}

func (c *DispatcherConfig) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	if c.SubscriberTimeout <= 0 {
		c.SubscriberTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
}

// Dispatcher drains the outbox: it selects events still owed a delivery and
// invokes the subscribers registered for their topics, recording the outcome
// of every pass. Delivery is at-least-once.
type Dispatcher struct {
	repo     Repository
	registry *Registry
	cfg      DispatcherConfig
	logger   *zap.Logger
	now      func() time.Time
}

// PassResult counts one dispatch pass.
type PassResult struct {
	Processed   int
	Published   int
	Failed      int
	Quarantined int
}

func NewDispatcher(repo Repository, registry *Registry, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("poll_interval", d.cfg.PollInterval))

	for {
		result, err := d.DispatchPass(ctx)
		if err != nil {
			d.logger.Error("dispatch pass failed", zap.Error(err))
		} else if result.Processed > 0 {
			d.logger.Info("dispatch pass",
				zap.Int("processed", result.Processed),
				zap.Int("published", result.Published),
				zap.Int("failed", result.Failed),
				zap.Int("quarantined", result.Quarantined))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchPass processes one bounded batch of unpublished events. Events are
// independent: a failure on one never blocks the others, and per-event
// subscriber invocations run in parallel under their own timeouts.
func (d *Dispatcher) DispatchPass(ctx context.Context) (PassResult, error) {
	events, err := d.repo.ListUnpublished(ctx, d.cfg.BatchSize)
	if err != nil {
		return PassResult{}, fmt.Errorf("outbox: list events for dispatch: %w", err)
	}

	result := PassResult{}
	for i := range events {
		if ctx.Err() != nil {
			break
		}

		event := events[i]
		result.Processed++

		pub, quarantine := d.publish(ctx, event)
		if err := d.repo.RecordPublication(ctx, event.ID, pub, quarantine); err != nil {
			// The side effects ran; without a record they will run again.
			// Subscribers are idempotent so this only costs a retry.
			d.logger.Error("failed to record publication",
				zap.String("event_id", event.ID),
				zap.String("topic", event.Topic),
				zap.Error(err))
			continue
		}

		switch {
		case quarantine:
			result.Quarantined++
			d.logger.Warn("event quarantined after exhausting retry budget",
				zap.String("event_id", event.ID),
				zap.String("topic", event.Topic))
		case len(pub.Failures) > 0:
			result.Failed++
		default:
			result.Published++
		}
	}

	return result, nil
}

// publish runs the subscribers owed a delivery for this event and returns the
// publication record plus whether the event must be quarantined.
func (d *Dispatcher) publish(ctx context.Context, event Event) (Publication, bool) {
	targets := d.targets(event)
	publishedAt := d.now().UTC()

	if len(targets) == 0 {
		failure := PublicationFailure{
			SubscriberID: "dispatcher",
			ErrorMessage: fmt.Sprintf("no subscriber registered for topic %s", event.Topic),
			Permanent:    true,
			OccurredAt:   publishedAt,
		}
		failures := []PublicationFailure{failure}
		return Publication{PublishedAt: publishedAt, Failures: failures},
			event.ShouldQuarantine(failures, d.cfg.RetryBudget)
	}

	var (
		mu       sync.Mutex
		failures []PublicationFailure
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range targets {
		group.Go(func() error {
			subCtx, cancel := context.WithTimeout(groupCtx, d.cfg.SubscriberTimeout)
			defer cancel()

			err := invoke(subCtx, sub, event)
			if err == nil {
				return nil
			}

			mu.Lock()
			failures = append(failures, PublicationFailure{
				SubscriberID: sub.ID(),
				ErrorMessage: err.Error(),
				Permanent:    isPermanent(err),
				OccurredAt:   d.now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	return Publication{PublishedAt: publishedAt, Failures: failures},
		event.ShouldQuarantine(failures, d.cfg.RetryBudget)
}

// targets resolves which subscribers are still owed this event: all of them on
// the first pass, only the previously failed ones on retries.
func (d *Dispatcher) targets(event Event) []Subscriber {
	registered := d.registry.For(event.Topic)
	failedIDs := event.FailedSubscriberIDs()
	if len(event.Publications) == 0 {
		return registered
	}

	wanted := map[string]bool{}
	for _, id := range failedIDs {
		wanted[id] = true
	}

	targets := make([]Subscriber, 0, len(failedIDs))
	for _, sub := range registered {
		if wanted[sub.ID()] {
			targets = append(targets, sub)
		}
	}
	return targets
}

// invoke isolates a subscriber call so a panic only fails its own delivery.
func invoke(ctx context.Context, sub Subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return sub.Handle(ctx, event)
}
