// Batch and requeue HTTP handlers (operator surface).
//
//   - POST /admin/batch/run          (drain up to ?limit pending leads now)
//   - POST /admin/leads/{id}/requeue (return a failed lead to pending)
//
// These endpoints exist for operators: the scheduler covers the steady state,
// the manual trigger covers "the backlog is visible and I want it gone now",
// and requeue is the only path by which a failed lead ever runs again.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/perfect-automation/go-crm-relay/internal/services"
	"github.com/perfect-automation/go-crm-relay/internal/utils"
)

// RunBatch triggers one bounded batch run and returns its summary. The
// optional ?limit= query overrides the configured default; values outside
// [1,100] are rejected before the queue is touched. A run already in flight
// answers 409 rather than queueing a second drain.
func (h *Handlers) RunBatch(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), h.defaultBatchLimit)

	summary, err := h.batchSvc.ProcessPending(c.Request.Context(), limit)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBatchLimit):
			fail(c, http.StatusBadRequest, ErrCodeBatchLimit, err.Error())
		case errors.Is(err, services.ErrBatchBusy):
			fail(c, http.StatusConflict, ErrCodeBatchBusy, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "batch run failed")
		}
		return
	}
	ok(c, http.StatusOK, summary)
}

// RequeueLead returns a failed lead to pending for the next batch run.
// Answers 404 for an unknown lead and 409 when the lead exists but is not
// in the failed state.
func (h *Handlers) RequeueLead(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lead id must be a UUID")
		return
	}

	if err := h.leadSvc.Requeue(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrLeadNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "lead not found")
		case errors.Is(err, services.ErrLeadNotRequeueable):
			fail(c, http.StatusConflict, ErrCodeLeadNotRequeueable, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "requeue failed")
		}
		return
	}
	noContent(c)
}
