// Lead HTTP handlers.
//
// This file exposes REST endpoints for lead resources:
//   - POST /leads/quote      (quote form intake)
//   - POST /leads/chat       (chat assistant intake)
//   - GET  /leads            (list, paginated)
//   - GET  /leads/{id}       (fetch one)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Intake never relays to the CRM
// inline; a submission is accepted into the queue and answered 202 so the
// website never blocks on Zoho.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/http/middleware"
	"github.com/perfect-automation/go-crm-relay/internal/services"
	"github.com/perfect-automation/go-crm-relay/internal/utils"
)

//
// Service contracts (context-aware)
//

// LeadService defines lead intake and operator operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type LeadService interface {
	// Create accepts a submission for the given source. When idemKey is
	// non-empty and a live entry exists, the original lead is returned with
	// replayed=true.
	Create(ctx context.Context, source, idemKey string, in services.LeadInput) (lead *domain.Lead, replayed bool, err error)
	// Get returns one lead by id.
	Get(ctx context.Context, id string) (*domain.Lead, error)
	// ListPage returns a page of leads and the total count.
	ListPage(ctx context.Context, status string, page, pageSize int) ([]domain.Lead, int64, error)
	// Requeue returns a failed lead to pending.
	Requeue(ctx context.Context, id string) error
}

// BatchService triggers one bounded batch run.
type BatchService interface {
	// ProcessPending drains up to limit pending leads.
	ProcessPending(ctx context.Context, limit int) (services.BatchSummary, error)
}

// HealthService produces the CRM integration health snapshot.
type HealthService interface {
	// Snapshot reports token state and queue depths without network calls.
	Snapshot(ctx context.Context) (services.SystemHealth, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for leads, batch runs, and health.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	leadSvc   LeadService
	batchSvc  BatchService
	healthSvc HealthService

	// defaultBatchLimit is used by RunBatch when the request omits ?limit.
	defaultBatchLimit int
}

// New constructs and returns a Handlers instance bound to the given services.
func New(leadSvc LeadService, batchSvc BatchService, healthSvc HealthService, defaultBatchLimit int) *Handlers {
	return &Handlers{
		leadSvc:           leadSvc,
		batchSvc:          batchSvc,
		healthSvc:         healthSvc,
		defaultBatchLimit: defaultBatchLimit,
	}
}

//
// DTOs
//

// CreateLeadRequest is the JSON payload for both intake endpoints. The lead
// source comes from the route, never from the body.
type CreateLeadRequest struct {
	Name        string `json:"name" binding:"max=255"`
	Email       string `json:"email" binding:"max=255"`
	Phone       string `json:"phone" binding:"max=64"`
	Company     string `json:"company" binding:"max=255"`
	Message     string `json:"message" binding:"max=10000"`
	ProductName string `json:"product_name" binding:"max=255"`
	ProductURL  string `json:"product_url" binding:"max=1024"`
}

// CreateLeadResponse acknowledges an accepted (or replayed) submission.
// Only queue metadata is echoed back; the stored contact fields are not.
type CreateLeadResponse struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Status   string `json:"status"`
	Replayed bool   `json:"replayed,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListLeadsResponse wraps a page of leads and pagination information.
type ListLeadsResponse struct {
	Leads      []domain.Lead `json:"leads"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreateQuoteLead accepts a quote form submission and enqueues it as a
// pending lead. Responds 202 with the queue record id.
func (h *Handlers) CreateQuoteLead(c *gin.Context) {
	h.createLead(c, domain.SourceQuoteForm)
}

// CreateChatLead accepts a chat assistant handoff and enqueues it as a
// pending lead. Responds 202 with the queue record id.
func (h *Handlers) CreateChatLead(c *gin.Context) {
	h.createLead(c, domain.SourceChatbot)
}

func (h *Handlers) createLead(c *gin.Context, source string) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)

	lead, replayed, err := h.leadSvc.Create(c.Request.Context(), source, idemKey, services.LeadInput{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Company:     req.Company,
		Message:     req.Message,
		ProductName: req.ProductName,
		ProductURL:  req.ProductURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoContact):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrUnknownSource):
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "intake route misconfigured")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not store lead")
		}
		return
	}

	status := http.StatusAccepted
	if replayed {
		// Same answer the original submission got, minus a second queue row.
		status = http.StatusOK
	}
	ok(c, status, CreateLeadResponse{
		ID:       lead.ID,
		Source:   lead.Source,
		Status:   lead.Status,
		Replayed: replayed,
	})
}

// ListLeads returns a page of leads ordered newest first. The optional
// ?status= filter accepts pending|processing|sent|failed.
func (h *Handlers) ListLeads(c *gin.Context) {
	status := strings.TrimSpace(c.Query("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.leadSvc.ListPage(c.Request.Context(), status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list leads")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListLeadsResponse{
		Leads: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetLead returns a single lead by id.
func (h *Handlers) GetLead(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lead id must be a UUID")
		return
	}

	lead, err := h.leadSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrLeadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "lead not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load lead")
		return
	}
	ok(c, http.StatusOK, lead)
}
