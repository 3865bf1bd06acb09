// Package zoho implements the HTTP client for the Zoho accounts (OAuth) and
// CRM v6 endpoints.
//
// The client is deliberately thin: it issues one request per method, bounds
// it with the configured timeout, and converts every failure into an
// *APIError carrying a closed ErrorKind. Retry policy lives in the service
// layer, not here.
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/perfect-automation/go-crm-relay/internal/config"
)

// maxErrorBodyBytes caps how much of an error response body is retained in
// APIError.Message (and therefore in logs and lead error_message columns).
const maxErrorBodyBytes = 2048

// Client talks to the Zoho accounts service and CRM API for one OAuth client.
// It is safe for concurrent use.
type Client struct {
	httpClient      *http.Client
	accountsBaseURL string
	apiDomain       string
	clientID        string
	clientSecret    string
}

// NewClient constructs a Client from the Zoho configuration. The underlying
// http.Client carries the configured timeout so every call is bounded even
// when the caller passes a background context.
func NewClient(cfg config.ZohoConfig) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.HTTPTimeout},
		accountsBaseURL: strings.TrimSuffix(cfg.AccountsBaseURL, "/"),
		apiDomain:       strings.TrimSuffix(cfg.APIDomain, "/"),
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
	}
}

// RefreshAccessToken exchanges a refresh token for a new access token via the
// refresh_token grant. On success the response includes expires_in seconds;
// the caller is responsible for persisting the derived absolute expiry.
//
// Failure mapping: 400/401 → KindAuth (revoked or invalid refresh token,
// terminal), 429 → KindRateLimited, 5xx → KindServer, timeout → KindTimeout.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)

	endpoint := c.accountsBaseURL + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &APIError{Kind: KindUnexpected, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, body, true)
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return nil, &APIError{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "token response missing access_token"}
	}
	return &tok, nil
}

// CreateLead inserts a single lead record via the CRM v6 bulk endpoint and
// returns the CRM-side lead id.
//
// Failure mapping: 429/5xx → retryable, other non-2xx → KindBadRequest or
// KindAuth (terminal), 2xx without an id → KindMalformed (retryable).
func (c *Client) CreateLead(ctx context.Context, accessToken string, lead LeadObject) (string, error) {
	payload, err := json.Marshal(createLeadRequest{Data: []LeadObject{lead}})
	if err != nil {
		return "", &APIError{Kind: KindUnexpected, Message: err.Error()}
	}

	endpoint := c.apiDomain + "/crm/v6/Leads"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &APIError{Kind: KindUnexpected, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp.StatusCode, body, false)
	}

	var out createLeadResponse
	if err := json.Unmarshal(body, &out); err != nil || len(out.Data) == 0 || out.Data[0].Details.ID == "" {
		// Ambiguous partial success: Zoho accepted the request but the id is
		// not where the contract says it should be.
		return "", &APIError{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "lead response missing record id"}
	}
	return out.Data[0].Details.ID, nil
}

// statusError maps a non-2xx status to an APIError. oauthCall widens the
// auth bucket: the token endpoint signals a dead refresh token with 400,
// whereas a CRM 400 is a payload problem.
func statusError(status int, body []byte, oauthCall bool) *APIError {
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: status, Message: msg}
	case status >= 500:
		return &APIError{Kind: KindServer, StatusCode: status, Message: msg}
	case status == http.StatusUnauthorized, oauthCall && status == http.StatusBadRequest:
		return &APIError{Kind: KindAuth, StatusCode: status, Message: msg}
	case status >= 400:
		return &APIError{Kind: KindBadRequest, StatusCode: status, Message: msg}
	default:
		return &APIError{Kind: KindUnexpected, StatusCode: status, Message: msg}
	}
}

// transportError maps a client/transport failure. Deadline and cancellation
// failures are timeouts; everything else is unexpected and terminal.
func transportError(err error) *APIError {
	var ue *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	case errors.As(err, &ue) && ue.Timeout():
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	default:
		return &APIError{Kind: KindUnexpected, Message: fmt.Sprintf("transport: %v", err)}
	}
}

// Timeout exposes the client's request bound, used by the health snapshot to
// report the effective external-call budget.
func (c *Client) Timeout() time.Duration { return c.httpClient.Timeout }
