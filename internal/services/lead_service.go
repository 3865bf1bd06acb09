// Package services – LeadService
//
// This file implements lead intake and operator-facing lead operations.
// Intake accepts a submission from one of the website surfaces, persists it
// as a pending lead, and records an idempotency entry when the client sent
// an Idempotency-Key, so network retries replay the original lead instead of
// enqueueing a duplicate. Relaying to the CRM is deliberately not part of
// intake; the batch processor owns that.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/repo"
)

// defaultIdempotencyTTL bounds how long a stored (source, key) mapping
// replays the original lead. Retries arrive within seconds; a day is
// generous.
const defaultIdempotencyTTL = 24 * time.Hour

// LeadStore defines the lead persistence contract required by LeadService.
type LeadStore interface {
	// Create inserts a new pending lead.
	Create(ctx context.Context, db *gorm.DB, in repo.NewLead) (*domain.Lead, error)

	// Get fetches one lead by id.
	Get(ctx context.Context, db *gorm.DB, id string) (*domain.Lead, error)

	// ListPage returns a page of leads, newest first, optionally filtered by status.
	ListPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Lead, error)

	// Count returns the total number of leads.
	Count(ctx context.Context, db *gorm.DB) (int64, error)

	// Requeue returns a failed lead to pending.
	Requeue(ctx context.Context, db *gorm.DB, id string) error
}

// IdempotencyStore defines the dedup persistence contract for intake.
type IdempotencyStore interface {
	// Get returns the stored entry for (source, key) when one exists and has
	// not expired at now.
	Get(ctx context.Context, db *gorm.DB, source, key string, now time.Time) (*domain.Idempotency, error)

	// Create stores (source, key) → leadID with the given TTL.
	Create(ctx context.Context, db *gorm.DB, source, key, leadID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// LeadInput is the submission payload shared by both intake surfaces. The
// source is fixed by the route the submission arrived on, never by the body.
type LeadInput struct {
	Name        string
	Email       string
	Phone       string
	Company     string
	Message     string
	ProductName string
	ProductURL  string
}

// LeadService implements intake and operator lead operations on top of the
// repository layer. Safe for concurrent use.
type LeadService struct {
	DB   *gorm.DB
	Repo LeadStore
	Idem IdempotencyStore
	Now  func() time.Time

	// TTL overrides the default idempotency window when > 0.
	TTL time.Duration
}

// NewLeadService constructs a LeadService with the default clock.
func NewLeadService(db *gorm.DB, store LeadStore, idem IdempotencyStore) *LeadService {
	return &LeadService{DB: db, Repo: store, Idem: idem, Now: time.Now}
}

func (s *LeadService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return defaultIdempotencyTTL
}

func (s *LeadService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create persists one submission as a pending lead.
//
// Validation here is intake-shaped, not CRM-shaped: a submission needs some
// way to reach the prospect (email or phone), everything else is optional.
// The relay applies the stricter CRM contract at send time, so a lead that
// passes intake can still fail relay validation and land in failed.
//
// When idemKey is non-empty, (source, idemKey) is checked first: a live entry
// replays the originally created lead with replayed=true and no new row. The
// entry is written after the lead insert; a failed entry write is logged and
// tolerated (worst case a retry creates a duplicate, which the CRM dedupes by
// email downstream).
func (s *LeadService) Create(ctx context.Context, source, idemKey string, in LeadInput) (lead *domain.Lead, replayed bool, err error) {
	if !domain.KnownSource(source) {
		return nil, false, ErrUnknownSource
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Email == "" && in.Phone == "" {
		return nil, false, ErrNoContact
	}

	if idemKey != "" && s.Idem != nil {
		if entry, lookErr := s.Idem.Get(ctx, s.DB, source, idemKey, s.now()); lookErr == nil && entry != nil {
			prior, getErr := s.Repo.Get(ctx, s.DB, entry.LeadID)
			if getErr == nil {
				return prior, true, nil
			}
			// Entry points at a vanished lead; fall through and recreate.
			log.Warn().
				Str("source", source).
				Str("lead_id", entry.LeadID).
				Msg("idempotency entry references missing lead")
		}
	}

	created, err := s.Repo.Create(ctx, s.DB, repo.NewLead{
		Source:      source,
		Name:        in.Name,
		Email:       in.Email,
		Phone:       in.Phone,
		Company:     strings.TrimSpace(in.Company),
		Message:     strings.TrimSpace(in.Message),
		ProductName: strings.TrimSpace(in.ProductName),
		ProductURL:  strings.TrimSpace(in.ProductURL),
	})
	if err != nil {
		return nil, false, err
	}

	if idemKey != "" && s.Idem != nil {
		if _, idemErr := s.Idem.Create(ctx, s.DB, source, idemKey, created.ID, 202, s.ttl()); idemErr != nil {
			if errors.Is(idemErr, repo.ErrDuplicate) {
				// Lost a race with a concurrent identical submission; serve
				// the stored winner instead of our duplicate.
				if entry, lookErr := s.Idem.Get(ctx, s.DB, source, idemKey, s.now()); lookErr == nil && entry != nil {
					if prior, getErr := s.Repo.Get(ctx, s.DB, entry.LeadID); getErr == nil {
						return prior, true, nil
					}
				}
			}
			log.Warn().Err(idemErr).Str("source", source).Msg("idempotency entry not stored")
		}
	}

	return created, false, nil
}

// HasSubmission reports whether a live idempotency entry exists for
// (source, key). Used by the HTTP middleware to flag replays before the
// handler runs.
func (s *LeadService) HasSubmission(ctx context.Context, source, key string, now time.Time) (bool, error) {
	if s.Idem == nil {
		return false, nil
	}
	entry, err := s.Idem.Get(ctx, s.DB, source, key, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return entry != nil, nil
}

// Get returns one lead by id, mapping a missing row to ErrLeadNotFound.
func (s *LeadService) Get(ctx context.Context, id string) (*domain.Lead, error) {
	lead, err := s.Repo.Get(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return lead, nil
}

// ListPage returns one page of leads plus the total count for pagination.
func (s *LeadService) ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Lead, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	offset := (page - 1) * pageSize
	items, err := s.Repo.ListPage(ctx, s.DB, status, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.Count(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Requeue returns a failed lead to pending so the next batch run picks it up
// again. Distinguishes "no such lead" from "lead exists but is not failed" so
// the handler can answer 404 vs 409.
func (s *LeadService) Requeue(ctx context.Context, id string) error {
	err := s.Repo.Requeue(ctx, s.DB, id)
	if err == nil {
		log.Info().Str("lead_id", id).Msg("lead requeued")
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if _, getErr := s.Repo.Get(ctx, s.DB, id); getErr != nil {
		return ErrLeadNotFound
	}
	return ErrLeadNotRequeueable
}
