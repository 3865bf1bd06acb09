// Package scheduler runs the periodic batch drains. The relay core itself is
// invocation-based; this is the one component that owns a goroutine, and it
// is the external enforcement of the "at most one batch run at a time"
// assumption: a single ticker loop, combined with the batch service's
// single-flight guard, means overlapping runs cannot happen.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfect-automation/go-crm-relay/internal/services"
)

// BatchRunner is the slice of BatchService the scheduler needs.
type BatchRunner interface {
	ProcessPending(ctx context.Context, limit int) (services.BatchSummary, error)
}

// Scheduler triggers a batch run every Interval until its context is
// cancelled.
type Scheduler struct {
	Batch    BatchRunner
	Interval time.Duration
	Limit    int
}

// New constructs a Scheduler.
func New(batch BatchRunner, interval time.Duration, limit int) *Scheduler {
	return &Scheduler{Batch: batch, Interval: interval, Limit: limit}
}

// Run blocks, draining the queue once immediately and then on every tick,
// until ctx is cancelled. Errors are logged, never fatal: a failed run is
// retried by the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.Interval).Int("limit", s.Limit).Msg("batch scheduler started")

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("batch scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summary, err := s.Batch.ProcessPending(ctx, s.Limit)
	if err != nil {
		if errors.Is(err, services.ErrBatchBusy) {
			log.Warn().Msg("previous batch run still in flight; skipping tick")
			return
		}
		log.Error().Err(err).Msg("scheduled batch run failed")
		return
	}
	if summary.Processed > 0 {
		log.Info().
			Int("processed", summary.Processed).
			Int("successful", summary.Successful).
			Int("failed", summary.Failed).
			Msg("scheduled batch run complete")
	}
}
