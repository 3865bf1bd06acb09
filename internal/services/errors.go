// Package services implements the relay core: token lifecycle, lead relay,
// batch processing, and the health snapshot. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Token-related errors.
var (
	// ErrZohoNotConfigured indicates that one or more required Zoho OAuth
	// environment variables are missing. The token service fails closed
	// without a network call; an operator must fix the deployment.
	ErrZohoNotConfigured = errors.New("zoho integration is not configured")

	// ErrNoRefreshToken indicates that the stored token record has no refresh
	// token, so an expired access token cannot be renewed automatically.
	// Manual re-authorization is required.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrRefreshFailed indicates that the OAuth refresh flow did not yield a
	// usable access token (revoked token, rate limit, outage, or timeout).
	ErrRefreshFailed = errors.New("access token refresh failed")
)

// Lead/batch-related errors.
var (
	// ErrUnknownSource is returned when intake receives a source outside the
	// known set (quote_form, chatbot). With per-source routes this indicates
	// a wiring bug rather than bad client input.
	ErrUnknownSource = errors.New("unknown lead source")

	// ErrNoContact is returned when a submission carries neither an email
	// address nor a phone number, leaving no way to reach the prospect.
	ErrNoContact = errors.New("lead needs an email or phone number")

	// ErrLeadNotFound indicates that the requested lead does not exist.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrLeadNotRequeueable is returned when a requeue is attempted on a lead
	// that is not in the failed state.
	ErrLeadNotRequeueable = errors.New("only failed leads can be requeued")

	// ErrBatchLimit is returned when a batch limit is outside [1,100]. This is
	// a caller configuration error, not a runtime failure to recover from.
	ErrBatchLimit = errors.New("batch limit must be between 1 and 100")

	// ErrBatchBusy is returned when a batch run is already in flight. Batch
	// runs are single-flight; the caller should simply wait for the next
	// scheduled run.
	ErrBatchBusy = errors.New("a batch run is already in progress")
)
