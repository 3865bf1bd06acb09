// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/config"
	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/http/handlers"
	"github.com/perfect-automation/go-crm-relay/internal/http/middleware"
	"github.com/perfect-automation/go-crm-relay/internal/repo"
	"github.com/perfect-automation/go-crm-relay/internal/services"
	"github.com/perfect-automation/go-crm-relay/internal/zoho"
)

// tokenRepoShim adapts the repository free functions to the services.TokenRepo
// interface expected by the TokenService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type tokenRepoShim struct{}

// Get proxies repo.GetCRMToken.
func (tokenRepoShim) Get(ctx context.Context, db *gorm.DB) (*domain.CRMToken, error) {
	return repo.GetCRMToken(ctx, db)
}

// UpdateAccessToken proxies repo.UpdateAccessToken.
func (tokenRepoShim) UpdateAccessToken(ctx context.Context, db *gorm.DB, accessToken, newRefreshToken string, expiresAt time.Time) error {
	return repo.UpdateAccessToken(ctx, db, accessToken, newRefreshToken, expiresAt)
}

// leadStoreShim adapts lead repository functions to services.LeadStore.
type leadStoreShim struct{}

// Create proxies repo.CreateLead.
func (leadStoreShim) Create(ctx context.Context, db *gorm.DB, in repo.NewLead) (*domain.Lead, error) {
	return repo.CreateLead(ctx, db, in)
}

// Get proxies repo.GetLead.
func (leadStoreShim) Get(ctx context.Context, db *gorm.DB, id string) (*domain.Lead, error) {
	return repo.GetLead(ctx, db, id)
}

// ListPage proxies repo.ListLeadsPage.
func (leadStoreShim) ListPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Lead, error) {
	return repo.ListLeadsPage(ctx, db, status, offset, limit)
}

// Count proxies repo.CountLeads.
func (leadStoreShim) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountLeads(ctx, db)
}

// Requeue proxies repo.RequeueLead.
func (leadStoreShim) Requeue(ctx context.Context, db *gorm.DB, id string) error {
	return repo.RequeueLead(ctx, db, id)
}

// idemStoreShim adapts idempotency repository functions to services.IdempotencyStore.
type idemStoreShim struct{}

// Get proxies repo.GetIdempotency.
func (idemStoreShim) Get(ctx context.Context, db *gorm.DB, source, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, source, key, now)
}

// Create proxies repo.CreateIdempotency.
func (idemStoreShim) Create(ctx context.Context, db *gorm.DB, source, key, leadID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, source, key, leadID, status, ttl)
}

// leadQueueShim adapts lead repository functions to services.LeadQueue.
type leadQueueShim struct{}

// ListPending proxies repo.ListPendingLeads.
func (leadQueueShim) ListPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.Lead, error) {
	return repo.ListPendingLeads(ctx, db, limit)
}

// MarkProcessing proxies repo.MarkLeadProcessing.
func (leadQueueShim) MarkProcessing(ctx context.Context, db *gorm.DB, id string) error {
	return repo.MarkLeadProcessing(ctx, db, id)
}

// MarkSent proxies repo.MarkLeadSent.
func (leadQueueShim) MarkSent(ctx context.Context, db *gorm.DB, id, zohoLeadID string, attempts int) error {
	return repo.MarkLeadSent(ctx, db, id, zohoLeadID, attempts)
}

// MarkFailed proxies repo.MarkLeadFailed.
func (leadQueueShim) MarkFailed(ctx context.Context, db *gorm.DB, id, errMsg string, attempts int) error {
	return repo.MarkLeadFailed(ctx, db, id, errMsg, attempts)
}

// intakeSource maps a matched route to the lead source it serves. Non-intake
// routes return "" so the idempotency lookup is skipped for them.
func intakeSource(apiBase string) func(c *gin.Context) string {
	quotePath := apiBase + "/leads/quote"
	chatPath := apiBase + "/leads/chat"
	return func(c *gin.Context) string {
		switch c.FullPath() {
		case quotePath:
			return domain.SourceQuoteForm
		case chatPath:
			return domain.SourceChatbot
		default:
			return ""
		}
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// It returns the BatchService it wired so the caller can hand the same
// instance to the background scheduler; the single-flight guard only works
// when the manual trigger and the scheduler share it.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip response compression
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per client IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) *services.BatchService {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Lead payloads carry emails and
	// phone numbers, so scrubbing is not optional here.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses (lead listings are the only sizeable payloads)
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Dependency injection: services ← repo/db/config
	zohoClient := zoho.NewClient(cfg.Zoho)
	tokenSvc := services.NewTokenService(db, tokenRepoShim{}, zohoClient, cfg.Zoho)
	relaySvc := services.NewRelayService(tokenSvc, zohoClient)
	relaySvc.MaxAttempts = cfg.Relay.MaxAttempts
	relaySvc.BaseBackoff = cfg.Relay.BaseBackoff
	batchSvc := services.NewBatchService(db, leadQueueShim{}, relaySvc)
	leadSvc := services.NewLeadService(db, leadStoreShim{}, idemStoreShim{})
	leadSvc.TTL = cfg.IdempotencyTTL
	healthSvc := services.NewHealthService(db, tokenSvc, cfg.Zoho)

	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// 8) Idempotency validation (before rate limiting)
	sourceFn := intakeSource(apiBase)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen:   200,
			SourceFn: sourceFn,
		},
		func(ctx context.Context, source, key string, now time.Time) (bool, error) {
			exists, err := leadSvc.HasSubmission(ctx, source, key, now)
			if err != nil {
				return false, nil
			}
			return exists, nil
		},
	))

	// 9) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(leadSvc, batchSvc, healthSvc, cfg.Batch.Limit)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Lead intake (per-source routes; the path fixes the source)
		api.POST("/leads/quote", h.CreateQuoteLead)
		api.POST("/leads/chat", h.CreateChatLead)

		// Lead inspection
		api.GET("/leads", h.ListLeads)
		api.GET("/leads/:id", h.GetLead)

		// CRM integration health
		api.GET("/health/crm", h.CRMHealth)

		// Operator actions
		api.POST("/admin/batch/run", h.RunBatch)
		api.POST("/admin/leads/:id/requeue", h.RequeueLead)
	}

	return batchSvc
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
