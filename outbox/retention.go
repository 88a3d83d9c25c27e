package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetentionWindow is how long published events stay queryable before
// the GC job removes them.
const DefaultRetentionWindow = 365 * 24 * time.Hour

// Retention deletes old, already-published events in bounded batches so lock
// duration and memory stay flat on large tables. Unpublished or quarantined
// events are never touched.
type Retention struct {
	repo   Repository
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewRetention(repo Repository, window time.Duration, logger *zap.Logger) *Retention {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{
		repo:   repo,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

// Sweep deletes at most limit events older than the retention window, oldest
// first, and returns the count actually deleted. An empty table is not an
// error.
func (r *Retention) Sweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("outbox: retention limit must be positive")
	}

	before := r.now().UTC().Add(-r.window)
	deleted, err := r.repo.DeleteOldPublished(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: retention sweep: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("retention sweep",
			zap.Int("deleted_events", deleted),
			zap.Time("before", before))
	}

	return deleted, nil
}
