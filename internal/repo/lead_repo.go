// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the lead queue.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only CRUD persistence
// and query composition. Status transitions are enforced with guarded
// UPDATEs (WHERE status IN ...), so a lead can only move forward
// (pending → processing → sent|failed) no matter how callers race.
//
// Error semantics:
//   - When a lead is not found (or a guarded transition matches no row),
//     functions return ErrNotFound.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

// NewLead captures the caller-supplied fields for CreateLead. Processing
// fields (status, retry count, outcome columns) are owned by the relay and
// cannot be set at creation time.
type NewLead struct {
	Source      string
	Name        string
	Email       string
	Phone       string
	Company     string
	Message     string
	ProductName string
	ProductURL  string
}

// CreateLead inserts a new pending lead with a UUID primary key and UTC
// timestamp. On success it returns the persisted row.
func CreateLead(ctx context.Context, db *gorm.DB, in NewLead) (*domain.Lead, error) {
	l := &domain.Lead{
		ID:          uuid.NewString(),
		Source:      in.Source,
		Name:        in.Name,
		Email:       in.Email,
		Phone:       in.Phone,
		Company:     in.Company,
		Message:     in.Message,
		ProductName: in.ProductName,
		ProductURL:  in.ProductURL,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// GetLead fetches a single lead by ID, or ErrNotFound if missing.
func GetLead(ctx context.Context, db *gorm.DB, id string) (*domain.Lead, error) {
	var l domain.Lead
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListPendingLeads returns up to limit pending leads across both sources in
// one combined read, oldest first, so batch runs drain the backlog in
// creation order.
func ListPendingLeads(ctx context.Context, db *gorm.DB, limit int) ([]domain.Lead, error) {
	var out []domain.Lead
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountLeads returns the total number of leads across both sources.
func CountLeads(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Lead{}).Count(&total).Error
	return total, err
}

// ListLeadsPage returns a page of leads ordered by creation time descending,
// optionally filtered by status. Use CountLeads for pagination metadata.
func ListLeadsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Lead, error) {
	q := db.WithContext(ctx).Model(&domain.Lead{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Lead
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// MarkLeadProcessing moves a pending lead to processing. This best-effort
// update runs before the relay attempt so a crash mid-batch leaves visible
// in-flight state. Returns ErrNotFound when the lead is missing or already
// past pending (e.g. claimed by a concurrent run).
func MarkLeadProcessing(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkLeadSent records a successful relay outcome: status sent, the CRM-side
// lead id, and the attempts consumed. The guard accepts pending as well as
// processing so an outcome is never lost when the processing mark itself
// failed earlier in the batch loop.
func MarkLeadSent(ctx context.Context, db *gorm.DB, id, zohoLeadID string, attempts int) error {
	return markLeadOutcome(ctx, db, id, map[string]any{
		"status":        domain.StatusSent,
		"zoho_lead_id":  zohoLeadID,
		"error_message": "",
		"retry_count":   gorm.Expr("retry_count + ?", attempts),
	})
}

// MarkLeadFailed records a terminal relay outcome: status failed plus the
// recorded error message, keeping the lead visible for manual inspection or
// an operator requeue. No lead is silently dropped.
func MarkLeadFailed(ctx context.Context, db *gorm.DB, id, errMsg string, attempts int) error {
	return markLeadOutcome(ctx, db, id, map[string]any{
		"status":        domain.StatusFailed,
		"error_message": errMsg,
		"retry_count":   gorm.Expr("retry_count + ?", attempts),
	})
}

func markLeadOutcome(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ? AND status IN ?", id, []string{domain.StatusPending, domain.StatusProcessing}).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueLead returns a failed lead to pending for a future batch run. This
// is the explicit operator action behind the admin requeue endpoint; the
// relay never resurrects failed leads on its own. retry_count is preserved
// for audit. Returns ErrNotFound unless the lead is currently failed.
func RequeueLead(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"error_message": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
