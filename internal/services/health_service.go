// Package services – HealthService
//
// This file assembles the point-in-time operational snapshot: token
// validity, environment readiness, and queue backlog/success-rate metrics.
// The snapshot is read-only and has no caching layer; its staleness window
// equals the time of its two underlying reads, which run concurrently.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/config"
	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/repo"
)

// TokenStatusProvider yields the read-only credential view.
type TokenStatusProvider interface {
	Status(ctx context.Context) (TokenStatus, error)
}

// QueueStats describes the lead backlog in the health snapshot.
type QueueStats struct {
	LeadsPending        int64            `json:"leads_pending"`
	PendingBySource     map[string]int64 `json:"pending_by_source"`
	LeadsProcessing     int64            `json:"leads_processing"`
	LeadsSent           int64            `json:"leads_sent"`
	LeadsFailed         int64            `json:"leads_failed"`
	HistoricSuccessRate float64          `json:"success_rate"`
}

// SystemHealth is the full diagnostic snapshot. Environment presence is
// reported as booleans only; secret values are never included.
type SystemHealth struct {
	Healthy     bool            `json:"healthy"`
	Token       TokenStatus     `json:"token"`
	Environment map[string]bool `json:"environment"`
	Queue       QueueStats      `json:"queue"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// HealthService produces SystemHealth snapshots.
type HealthService struct {
	DB     *gorm.DB
	Tokens TokenStatusProvider
	Zoho   config.ZohoConfig
}

// NewHealthService constructs a HealthService.
func NewHealthService(db *gorm.DB, tokens TokenStatusProvider, zcfg config.ZohoConfig) *HealthService {
	return &HealthService{DB: db, Tokens: tokens, Zoho: zcfg}
}

// Snapshot runs the token-status and queue-stats reads concurrently and
// derives the overall verdict: the integration is healthy when it is fully
// configured and either holds a valid token or can refresh one.
func (s *HealthService) Snapshot(ctx context.Context) (SystemHealth, error) {
	var (
		tokenStatus TokenStatus
		tokenErr    error
		leadStats   *repo.LeadStats
		statsErr    error
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		leadStats, statsErr = repo.CollectLeadStats(ctx, s.DB)
	}()
	tokenStatus, tokenErr = s.Tokens.Status(ctx)
	<-done

	if tokenErr != nil {
		return SystemHealth{}, tokenErr
	}
	if statsErr != nil {
		return SystemHealth{}, statsErr
	}

	health := SystemHealth{
		Token:       tokenStatus,
		Environment: s.Zoho.RequiredVars(),
		Queue: QueueStats{
			LeadsPending: leadStats.Pending,
			PendingBySource: map[string]int64{
				domain.SourceQuoteForm: leadStats.PendingBySource[domain.SourceQuoteForm],
				domain.SourceChatbot:   leadStats.PendingBySource[domain.SourceChatbot],
			},
			LeadsProcessing:     leadStats.Processing,
			LeadsSent:           leadStats.Sent,
			LeadsFailed:         leadStats.Failed,
			HistoricSuccessRate: leadStats.SuccessRate,
		},
		GeneratedAt: time.Now().UTC(),
	}
	health.Healthy = tokenStatus.Configured && (tokenStatus.TokenValid || tokenStatus.CanRefresh)
	return health, nil
}
