package partnersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"immersion/convention"
)

// PartnerGateway pushes one validated convention to the partner system.
// Implementations must be idempotent per convention: the worker re-drives
// until it records SUCCESS, so the same convention may be pushed twice.
type PartnerGateway interface {
	BroadcastConvention(ctx context.Context, c convention.Convention) error
}

// ConventionReader loads the aggregate the gateway needs.
type ConventionReader interface {
	Get(ctx context.Context, id string) (convention.Convention, error)
}

// WorkerConfig bounds one re-drive pass.
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
}

// Worker drains the broadcast ledger: TO_PROCESS rows get their first
// attempt, ERROR rows are retried, SKIP rows are never touched.
type Worker struct {
	repo        Repository
	conventions ConventionReader
	gateway     PartnerGateway
	cfg         WorkerConfig
	logger      *zap.Logger
	now         func() time.Time
}

// PassResult counts one worker pass.
type PassResult struct {
	Processed int
	Succeeded int
	Errored   int
}

func NewWorker(repo Repository, conventions ConventionReader, gateway PartnerGateway, cfg WorkerConfig, logger *zap.Logger) *Worker {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		repo:        repo,
		conventions: conventions,
		gateway:     gateway,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run polls the ledger until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, err := w.Pass(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.logger.Error("partner sync pass failed", zap.Error(err))
		} else if result.Processed > 0 {
			w.logger.Info("partner sync pass",
				zap.Int("processed", result.Processed),
				zap.Int("succeeded", result.Succeeded),
				zap.Int("errored", result.Errored))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Pass processes one batch of the work queue. A gateway failure marks the
// row ERROR with the failure reason and moves on; it never stops the batch.
func (w *Worker) Pass(ctx context.Context) (PassResult, error) {
	records, err := w.repo.GetNotProcessedAndErrored(ctx, w.cfg.BatchSize)
	if err != nil {
		return PassResult{}, err
	}

	var result PassResult
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		if err := w.process(ctx, record.ID); err != nil {
			result.Errored++
			if saveErr := w.record(ctx, record.ID, StatusError, err.Error()); saveErr != nil {
				return result, saveErr
			}
			w.logger.Warn("partner broadcast failed",
				zap.String("conventionId", record.ID),
				zap.Error(err))
			continue
		}

		result.Succeeded++
		if err := w.record(ctx, record.ID, StatusSuccess, ""); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (w *Worker) process(ctx context.Context, conventionID string) error {
	c, err := w.conventions.Get(ctx, conventionID)
	if err != nil {
		return fmt.Errorf("load convention: %w", err)
	}
	if err := w.gateway.BroadcastConvention(ctx, c); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

func (w *Worker) record(ctx context.Context, conventionID string, status Status, reason string) error {
	now := w.now().UTC()
	record := ConventionToSync{
		ID:          conventionID,
		Status:      status,
		ProcessDate: &now,
	}
	if reason != "" {
		record.Reason = &reason
	}
	return w.repo.Save(ctx, record)
}

// MarkSkip excludes a convention from broadcast. Operator action only; the
// worker leaves SKIP rows alone forever.
func MarkSkip(ctx context.Context, repo Repository, conventionID, reason string) error {
	if reason == "" {
		return fmt.Errorf("partnersync: skip requires a reason")
	}
	return repo.Save(ctx, ConventionToSync{
		ID:     conventionID,
		Status: StatusSkip,
		Reason: &reason,
	})
}

// Requeue puts a convention back on the work queue regardless of its
// current state. Operator action for re-driving a SKIP or stuck row.
func Requeue(ctx context.Context, repo Repository, conventionID string) error {
	return repo.Save(ctx, ConventionToSync{
		ID:     conventionID,
		Status: StatusToProcess,
	})
}
