// Package services – RelayService
//
// This file implements the lead relay: validate a queued lead locally,
// acquire a valid access token, map the lead into the CRM's record shape,
// and submit it under a bounded retry loop.
//
// The retry design is two-level on purpose: the HTTP boundary classifies
// each failure once (retryable vs terminal), and the outer loop here only
// decides whether another attempt is allowed. Bad data and revoked auth
// never succeed on retry and must surface immediately to avoid wasting CRM
// quota; 5xx, 429 and timeouts are transient and get bounded backoff.
//
// Observability: Send is OpenTelemetry-instrumented and every attempt
// outcome feeds the Prometheus relay counters.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/zoho"
)

// Fixed CRM-side attributes stamped on every created lead.
const (
	crmLeadStatus = "New"
	crmLeadRating = "Hot"

	// lastNamePlaceholder fills Last_Name when the contact supplied a single
	// name token; Zoho requires Last_Name on every lead.
	lastNamePlaceholder = "Unknown"
)

// Human-readable CRM lead-source labels per origin.
const (
	leadSourceQuoteLabel = "Website Quote Form"
	leadSourceChatLabel  = "Website Chat Assistant"
)

// emailRE is the basic local@domain.tld gate applied before any network call.
var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

var (
	relayAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_attempts_total",
			Help: "CRM submission attempts by outcome kind.",
		},
		[]string{"outcome"},
	)
	relayLeads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_leads_total",
			Help: "Relayed leads by final result.",
		},
		[]string{"result", "source"},
	)
)

func init() {
	prometheus.MustRegister(relayAttempts, relayLeads)
}

// TokenProvider yields a currently valid access token.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context) (string, error)
}

// LeadClient defines the CRM contract required by RelayService.
type LeadClient interface {
	// CreateLead inserts one lead record and returns the CRM-side id.
	CreateLead(ctx context.Context, accessToken string, lead zoho.LeadObject) (string, error)
}

// LeadResult is the aggregate outcome of one Send invocation.
//
// Retryable reports whether a later, separate batch run could plausibly
// succeed; exhausting the attempt budget is reported terminal for this
// invocation even when the last individual failure was transient.
type LeadResult struct {
	Success    bool
	ZohoLeadID string
	Error      string
	Retryable  bool
	Attempts   int
}

// RelayService validates, transforms, and submits leads to the CRM.
type RelayService struct {
	Tokens TokenProvider
	CRM    LeadClient

	// MaxAttempts caps the outer retry loop; values < 1 default to 3.
	MaxAttempts int
	// BaseBackoff is the first inter-attempt delay, doubled each retry;
	// values <= 0 default to 1s.
	BaseBackoff time.Duration

	// Sleep is injectable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration)
}

// NewRelayService constructs a RelayService with the default 3-attempt,
// 1s-base backoff budget.
func NewRelayService(tokens TokenProvider, crm LeadClient) *RelayService {
	return &RelayService{Tokens: tokens, CRM: crm, MaxAttempts: 3, BaseBackoff: time.Second}
}

func (s *RelayService) maxAttempts() int {
	if s.MaxAttempts < 1 {
		return 3
	}
	return s.MaxAttempts
}

func (s *RelayService) baseBackoff() time.Duration {
	if s.BaseBackoff <= 0 {
		return time.Second
	}
	return s.BaseBackoff
}

func (s *RelayService) sleep(ctx context.Context, d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Send relays one lead to the CRM and reports the aggregate outcome. It
// never returns an error: every failure mode is folded into the LeadResult
// so the batch processor can persist it without unwinding.
func (s *RelayService) Send(ctx context.Context, lead *domain.Lead) LeadResult {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("lead.id", lead.ID),
			attribute.String("lead.source", lead.Source),
		),
	)
	defer span.End()

	// 1) Local validation: immediate, non-retryable, zero I/O.
	if msg := validateLead(lead); msg != "" {
		relayLeads.WithLabelValues("invalid", lead.Source).Inc()
		return LeadResult{Error: msg, Retryable: false}
	}

	payload := buildLeadObject(lead)

	var last LeadResult
	max := s.maxAttempts()
	for attempt := 1; attempt <= max; attempt++ {
		last = s.attempt(ctx, payload)
		last.Attempts = attempt
		if last.Success {
			relayLeads.WithLabelValues("sent", lead.Source).Inc()
			return last
		}
		if !last.Retryable {
			break
		}
		if attempt < max {
			// 1s, 2s, 4s, ... between attempts.
			delay := s.baseBackoff() << (attempt - 1)
			log.Warn().
				Str("lead_id", lead.ID).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Str("error", last.Error).
				Msg("lead submission failed; backing off")
			s.sleep(ctx, delay)
		}
	}

	// Exhausting the budget is terminal for this invocation; a later batch
	// run is the only place further automatic retries may come from.
	last.Retryable = false
	relayLeads.WithLabelValues("failed", lead.Source).Inc()
	return last
}

// attempt performs one token acquisition + submission round.
func (s *RelayService) attempt(ctx context.Context, payload zoho.LeadObject) LeadResult {
	// 2) Token acquisition. A missing token is an operator-facing condition,
	// not something blind retries fix.
	token, err := s.Tokens.ValidAccessToken(ctx)
	if err != nil {
		relayAttempts.WithLabelValues("no_token").Inc()
		return LeadResult{Error: "no valid access token: " + err.Error(), Retryable: false}
	}

	// 4) Submission, classified at the HTTP boundary.
	id, err := s.CRM.CreateLead(ctx, token, payload)
	if err != nil {
		var apiErr *zoho.APIError
		if errors.As(err, &apiErr) {
			relayAttempts.WithLabelValues(apiErr.Kind.String()).Inc()
			return LeadResult{Error: apiErr.Error(), Retryable: apiErr.Retryable()}
		}
		relayAttempts.WithLabelValues("unexpected").Inc()
		return LeadResult{Error: err.Error(), Retryable: false}
	}

	relayAttempts.WithLabelValues("success").Inc()
	return LeadResult{Success: true, ZohoLeadID: id}
}

// validateLead applies the local gate: required fields, a basic email
// pattern, and a known origin. Returns "" when the lead is acceptable.
func validateLead(l *domain.Lead) string {
	switch {
	case strings.TrimSpace(l.Name) == "":
		return "lead name is required"
	case strings.TrimSpace(l.Email) == "":
		return "lead email is required"
	case !emailRE.MatchString(l.Email):
		return "lead email is malformed"
	case strings.TrimSpace(l.Message) == "":
		return "lead message is required"
	case !domain.KnownSource(l.Source):
		return "unknown lead source: " + l.Source
	}
	return ""
}

// splitName divides a free-text name at the first whitespace gap: the first
// token becomes the first name and the remainder the last name. A single
// token keeps the placeholder last name the CRM requires.
func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", lastNamePlaceholder
	case 1:
		return fields[0], lastNamePlaceholder
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// sourceLabel maps the internal origin enum to the human-readable CRM
// lead-source label.
func sourceLabel(source string) string {
	if source == domain.SourceChatbot {
		return leadSourceChatLabel
	}
	return leadSourceQuoteLabel
}

// buildLeadObject maps a queued lead into the CRM record shape, carrying
// optional contact fields through and stamping the fixed status and rating.
func buildLeadObject(l *domain.Lead) zoho.LeadObject {
	first, lastName := splitName(l.Name)
	obj := zoho.LeadObject{
		FirstName:   first,
		LastName:    lastName,
		Email:       l.Email,
		Phone:       l.Phone,
		Company:     l.Company,
		LeadSource:  sourceLabel(l.Source),
		Description: l.Message,
		LeadStatus:  crmLeadStatus,
		Rating:      crmLeadRating,
		InquiryType: sourceLabel(l.Source),
	}
	if l.ProductName != "" {
		obj.ProductInterest = l.ProductName
	}
	if l.ProductURL != "" {
		obj.AdditionalRequirements = "Product page: " + l.ProductURL
	}
	return obj
}
