// Package services – TokenService
//
// This file implements the OAuth token lifecycle against the Zoho accounts
// service: read the singleton token record, hand out the access token while
// it is still valid, and transparently run the refresh-token grant when it
// has expired. All expected failure modes (missing configuration, missing or
// revoked refresh token, network timeout) are converted into sentinel errors
// so the relay can classify them instead of catching exceptions.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/config"
	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/zoho"
)

// expirySkew treats a token as expired slightly before its stored expiry so
// an in-flight CRM call never straddles the real cutoff.
const expirySkew = time.Minute

// TokenRepo defines the persistence contract required by TokenService.
type TokenRepo interface {
	// Get fetches the singleton token record.
	Get(ctx context.Context, db *gorm.DB) (*domain.CRMToken, error)

	// UpdateAccessToken overwrites the access token and expiry in place.
	UpdateAccessToken(ctx context.Context, db *gorm.DB, accessToken, newRefreshToken string, expiresAt time.Time) error
}

// OAuthClient defines the accounts-service contract required by TokenService.
type OAuthClient interface {
	// RefreshAccessToken performs the refresh_token grant.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*zoho.TokenResponse, error)
}

// TokenStatus is a read-only view of the stored credential, consumed by the
// health snapshot. It never carries token values.
type TokenStatus struct {
	Configured bool       `json:"configured"`
	TokenValid bool       `json:"token_valid"`
	CanRefresh bool       `json:"can_refresh"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// TokenService owns the read-check-refresh-write sequence on the singleton
// token record. The sequence runs under a mutex so two concurrent callers
// observing an expired token trigger exactly one refresh; the second caller
// piggybacks on the freshly stored token.
type TokenService struct {
	DB     *gorm.DB
	Repo   TokenRepo
	Client OAuthClient
	Zoho   config.ZohoConfig

	// Now is injectable for tests; defaults to time.Now (UTC).
	Now func() time.Time

	mu sync.Mutex
}

// NewTokenService constructs a TokenService bound to the given handle,
// repository, and OAuth client.
func NewTokenService(db *gorm.DB, repo TokenRepo, client OAuthClient, zcfg config.ZohoConfig) *TokenService {
	return &TokenService{DB: db, Repo: repo, Client: client, Zoho: zcfg}
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidAccessToken returns an access token that is valid right now.
//
// Behavior:
//   - Missing configuration fails closed with ErrZohoNotConfigured, before
//     any database or network access.
//   - A present, unexpired token is returned immediately (no network call);
//     this is the common, cheap path.
//   - An expired token with a stored refresh token triggers one synchronous
//     refresh; the new token and recomputed expiry are persisted in place.
//   - No stored record, or a record without a refresh token, returns
//     ErrNoRefreshToken: manual re-authorization is required.
func (s *TokenService) ValidAccessToken(ctx context.Context) (string, error) {
	if !s.Zoho.Complete() {
		return "", ErrZohoNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.Repo.Get(ctx, s.DB)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	now := s.now()
	if !tok.Expired(now, expirySkew) {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	return s.refresh(ctx, tok.RefreshToken, now)
}

// refresh runs the refresh-token grant and persists the result. Callers must
// hold the refresh mutex.
func (s *TokenService) refresh(ctx context.Context, refreshToken string, now time.Time) (string, error) {
	resp, err := s.Client.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		var apiErr *zoho.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Kind {
			case zoho.KindAuth:
				log.Error().Int("status", apiErr.StatusCode).
					Msg("refresh token invalid or revoked; manual re-authorization required")
			case zoho.KindRateLimited:
				log.Warn().Msg("token endpoint rate-limited; callers should back off")
			default:
				log.Error().Str("kind", apiErr.Kind.String()).Int("status", apiErr.StatusCode).
					Msg("token refresh failed")
			}
		}
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	expiresAt := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := s.Repo.UpdateAccessToken(ctx, s.DB, resp.AccessToken, resp.RefreshToken, expiresAt); err != nil {
		// The token itself is good; failing the caller over a local write
		// would turn a persistence hiccup into a lost lead. The next caller
		// will simply refresh again.
		log.Error().Err(err).Msg("refreshed access token could not be persisted")
	}
	log.Info().Time("expires_at", expiresAt).Msg("access token refreshed")
	return resp.AccessToken, nil
}

// Status assembles the read-only credential view used by the health snapshot.
// It performs no network calls and never triggers a refresh.
func (s *TokenService) Status(ctx context.Context) (TokenStatus, error) {
	st := TokenStatus{Configured: s.Zoho.Complete()}
	tok, err := s.Repo.Get(ctx, s.DB)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.TokenValid = !tok.Expired(s.now(), expirySkew)
	st.CanRefresh = tok.RefreshToken != ""
	if !tok.ExpiresAt.IsZero() {
		t := tok.ExpiresAt
		st.ExpiresAt = &t
	}
	return st, nil
}
