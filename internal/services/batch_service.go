// Package services – BatchService
//
// This file implements the batch processor: one bounded invocation drains up
// to N pending leads from the queue, delegates each to the relay, and writes
// the outcome back so no lead is ever left stuck in processing. One bad lead
// must not abort the batch; per-lead failures (including panics) are caught,
// recorded into the summary, and processing continues with the next lead.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

// maxBatchLimit is the inclusive upper bound on leads drained per run.
const maxBatchLimit = 100

// LeadQueue defines the queue persistence contract required by BatchService.
type LeadQueue interface {
	// ListPending returns up to limit pending leads, oldest first.
	ListPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.Lead, error)

	// MarkProcessing moves a pending lead to processing.
	MarkProcessing(ctx context.Context, db *gorm.DB, id string) error

	// MarkSent records a successful outcome with the CRM-side id.
	MarkSent(ctx context.Context, db *gorm.DB, id, zohoLeadID string, attempts int) error

	// MarkFailed records a terminal outcome with the error message.
	MarkFailed(ctx context.Context, db *gorm.DB, id, errMsg string, attempts int) error
}

// LeadSender relays one lead to the CRM.
type LeadSender interface {
	Send(ctx context.Context, lead *domain.Lead) LeadResult
}

// BatchSummary aggregates the outcome of one batch run.
type BatchSummary struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// BatchService drains pending leads sequentially, in creation order. Runs
// are single-flight: a second concurrent invocation fails fast with
// ErrBatchBusy instead of double-processing leads.
type BatchService struct {
	DB    *gorm.DB
	Queue LeadQueue
	Relay LeadSender

	mu      sync.Mutex
	running bool
}

// NewBatchService constructs a BatchService over the given queue and relay.
func NewBatchService(db *gorm.DB, queue LeadQueue, relay LeadSender) *BatchService {
	return &BatchService{DB: db, Queue: queue, Relay: relay}
}

// ProcessPending drains up to limit pending leads and reports aggregate
// counts. It does not retry failed leads within the same invocation; leads
// still pending are simply picked up by the next run.
//
// A limit outside [1,100] is a caller configuration error and is rejected
// before the queue is touched.
func (s *BatchService) ProcessPending(ctx context.Context, limit int) (BatchSummary, error) {
	if limit < 1 || limit > maxBatchLimit {
		return BatchSummary{}, fmt.Errorf("%w: got %d", ErrBatchLimit, limit)
	}
	if !s.tryAcquire() {
		return BatchSummary{}, ErrBatchBusy
	}
	defer s.release()

	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "ProcessPending",
		trace.WithAttributes(attribute.Int("batch.limit", limit)),
	)
	defer span.End()

	summary := BatchSummary{Errors: []string{}}

	leads, err := s.Queue.ListPending(ctx, s.DB, limit)
	if err != nil {
		return summary, err
	}
	if len(leads) == 0 {
		return summary, nil
	}

	log.Info().Int("count", len(leads)).Msg("batch run started")
	for i := range leads {
		lead := leads[i]
		summary.Processed++
		if s.processOne(ctx, &lead, &summary) {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	log.Info().
		Int("processed", summary.Processed).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("batch run finished")
	span.SetAttributes(
		attribute.Int("batch.processed", summary.Processed),
		attribute.Int("batch.failed", summary.Failed),
	)
	return summary, nil
}

// processOne handles a single lead: mark processing, relay, record outcome.
// Any panic or unexpected error is converted into a summary entry so sibling
// leads keep processing.
func (s *BatchService) processOne(ctx context.Context, lead *domain.Lead, summary *BatchSummary) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("lead %s: unexpected: %v", lead.ID, r)
			summary.Errors = append(summary.Errors, msg)
			log.Error().Str("lead_id", lead.ID).Interface("panic", r).Msg("lead processing panicked")
			// Never leave the lead stuck in processing.
			if err := s.Queue.MarkFailed(ctx, s.DB, lead.ID, msg, 0); err != nil {
				log.Error().Err(err).Str("lead_id", lead.ID).Msg("could not record panic outcome")
			}
			sent = false
		}
	}()

	// Best-effort in-flight marker: a crash between here and the outcome
	// update leaves visible processing state rather than an untouched row.
	if err := s.Queue.MarkProcessing(ctx, s.DB, lead.ID); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("lead %s: mark processing: %v", lead.ID, err))
	}

	res := s.Relay.Send(ctx, lead)

	// The outcome update always happens, success or not.
	if res.Success {
		if err := s.Queue.MarkSent(ctx, s.DB, lead.ID, res.ZohoLeadID, res.Attempts); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("lead %s: mark sent: %v", lead.ID, err))
		}
		return true
	}
	summary.Errors = append(summary.Errors, fmt.Sprintf("lead %s: %s", lead.ID, res.Error))
	if err := s.Queue.MarkFailed(ctx, s.DB, lead.ID, res.Error, res.Attempts); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("lead %s: mark failed: %v", lead.ID, err))
	}
	return false
}

func (s *BatchService) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *BatchService) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
