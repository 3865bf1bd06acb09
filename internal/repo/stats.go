// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the health
// snapshot: per-source backlog counts and the historical relay success rate.
// Each function is context-aware and safe to call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

// LeadStats is a point-in-time aggregate view over the lead queue.
//
// SuccessRate is sent / (sent + failed) over all processed leads; it is 0
// when nothing has been processed yet, so a fresh deployment does not report
// a fake 100%.
type LeadStats struct {
	PendingBySource map[string]int64
	Pending         int64
	Processing      int64
	Sent            int64
	Failed          int64
	Total           int64
	SuccessRate     float64
}

// CollectLeadStats computes the aggregate queue view with two grouped scans
// of the leads table.
func CollectLeadStats(ctx context.Context, db *gorm.DB) (*LeadStats, error) {
	stats := &LeadStats{PendingBySource: map[string]int64{
		domain.SourceQuoteForm: 0,
		domain.SourceChatbot:   0,
	}}

	// Counts per status.
	var byStatus []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.Total += row.N
		switch row.Status {
		case domain.StatusPending:
			stats.Pending = row.N
		case domain.StatusProcessing:
			stats.Processing = row.N
		case domain.StatusSent:
			stats.Sent = row.N
		case domain.StatusFailed:
			stats.Failed = row.N
		}
	}

	// Pending backlog split by origin.
	var bySource []struct {
		Source string
		N      int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Lead{}).
		Select("source, COUNT(*) as n").
		Where("status = ?", domain.StatusPending).
		Group("source").
		Scan(&bySource).Error
	if err != nil {
		return nil, err
	}
	for _, row := range bySource {
		stats.PendingBySource[row.Source] = row.N
	}

	if done := stats.Sent + stats.Failed; done > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(done)
	}
	return stats, nil
}
