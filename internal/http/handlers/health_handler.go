// CRM health HTTP handler.
//
//   - GET /health/crm (integration diagnostic snapshot)
//
// Distinct from the /health liveness probe wired in the router: liveness
// answers "is the process up", this endpoint answers "can leads actually
// reach the CRM right now". It makes no network calls; the verdict is
// derived from stored token state and configuration presence.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CRMHealth returns the CRM integration snapshot. The HTTP status follows
// the verdict (200 healthy, 503 otherwise) so load-balancer style checks can
// consume it without parsing the body. Environment readiness is reported as
// presence booleans only; token and secret values never appear.
func (h *Handlers) CRMHealth(c *gin.Context) {
	snapshot, err := h.healthSvc.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeHealthFailed, "could not assemble health snapshot")
		return
	}

	status := http.StatusOK
	if !snapshot.Healthy {
		status = http.StatusServiceUnavailable
	}
	ok(c, status, snapshot)
}
