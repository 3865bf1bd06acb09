// Package zoho implements the HTTP client for the Zoho accounts (OAuth) and
// CRM v6 endpoints. This file defines the closed failure taxonomy produced at
// the HTTP boundary; callers branch on ErrorKind instead of re-inspecting
// status codes.
package zoho

import "fmt"

// ErrorKind classifies a failed call against either Zoho endpoint. The set is
// closed: every failure an APIError carries maps to exactly one kind, and the
// retry loop in the relay service consumes Retryable() exclusively.
type ErrorKind int

const (
	// KindAuth covers invalid or revoked credentials: HTTP 400/401 from the
	// token endpoint (a dead refresh token needs manual re-authorization)
	// and 401 from the CRM API.
	KindAuth ErrorKind = iota
	// KindRateLimited is HTTP 429 from either endpoint.
	KindRateLimited
	// KindServer is any 5xx response.
	KindServer
	// KindBadRequest is a non-auth 4xx from the CRM API: the payload is
	// malformed or rejected and will be rejected again on retry.
	KindBadRequest
	// KindTimeout is a request that hit the client timeout or was cancelled.
	KindTimeout
	// KindMalformed is a 2xx response whose body lacks the expected shape
	// (e.g. no lead id). Treated conservatively as an ambiguous partial
	// success worth one more attempt.
	KindMalformed
	// KindUnexpected is any other transport-level failure.
	KindUnexpected
)

// String returns a stable snake_case label for logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindBadRequest:
		return "bad_request"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed_response"
	default:
		return "unexpected"
	}
}

// Retryable reports whether a bounded automatic retry can plausibly succeed.
// Auth and bad-request failures repeat deterministically and must surface
// immediately instead of burning API quota.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServer, KindTimeout, KindMalformed:
		return true
	default:
		return false
	}
}

// APIError is the typed failure returned by every client method. StatusCode
// is zero for transport-level failures.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("zoho: %s (http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("zoho: %s: %s", e.Kind, e.Message)
}

// Retryable is a convenience forwarder to the kind's classification.
func (e *APIError) Retryable() bool { return e.Kind.Retryable() }
