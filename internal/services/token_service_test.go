package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/config"
	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/zoho"
)

// --- fakes ---

type fakeTokenRepo struct {
	tok     *domain.CRMToken
	getErr  error
	saveErr error

	gets  int
	saves int

	savedAccess  string
	savedRefresh string
	savedExpiry  time.Time
}

func (f *fakeTokenRepo) Get(_ context.Context, _ *gorm.DB) (*domain.CRMToken, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	cp := *f.tok
	return &cp, nil
}

func (f *fakeTokenRepo) UpdateAccessToken(_ context.Context, _ *gorm.DB, accessToken, newRefreshToken string, expiresAt time.Time) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedAccess = accessToken
	f.savedRefresh = newRefreshToken
	f.savedExpiry = expiresAt
	f.tok.AccessToken = accessToken
	if newRefreshToken != "" {
		f.tok.RefreshToken = newRefreshToken
	}
	f.tok.ExpiresAt = expiresAt
	return nil
}

type fakeOAuthClient struct {
	resp *zoho.TokenResponse
	err  error

	calls          int
	lastRefreshTok string
}

func (f *fakeOAuthClient) RefreshAccessToken(_ context.Context, refreshToken string) (*zoho.TokenResponse, error) {
	f.calls++
	f.lastRefreshTok = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func completeZoho() config.ZohoConfig {
	return config.ZohoConfig{
		ClientID:        "cid",
		ClientSecret:    "secret",
		AccountsBaseURL: "https://accounts.example.com",
		APIDomain:       "https://api.example.com",
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// --- tests ---

func TestValidAccessToken_NotConfigured_FailsClosed(t *testing.T) {
	repo := &fakeTokenRepo{}
	client := &fakeOAuthClient{}
	svc := NewTokenService(nil, repo, client, config.ZohoConfig{ClientID: "only-this"})

	_, err := svc.ValidAccessToken(context.Background())
	if !errors.Is(err, ErrZohoNotConfigured) {
		t.Fatalf("expected ErrZohoNotConfigured, got %v", err)
	}
	if repo.gets != 0 || client.calls != 0 {
		t.Fatalf("expected no db or network access, got gets=%d calls=%d", repo.gets, client.calls)
	}
}

func TestValidAccessToken_ValidToken_NoRefresh(t *testing.T) {
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  "live-token",
		RefreshToken: "refresh",
		ExpiresAt:    fixedNow().Add(30 * time.Minute),
	}}
	client := &fakeOAuthClient{}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	// Two consecutive calls: both return the stored token, zero refreshes.
	for i := 0; i < 2; i++ {
		got, err := svc.ValidAccessToken(context.Background())
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if got != "live-token" {
			t.Fatalf("call %d: got %q", i+1, got)
		}
	}
	if client.calls != 0 {
		t.Fatalf("valid token must not trigger refresh, got %d calls", client.calls)
	}
	if repo.saves != 0 {
		t.Fatalf("valid token must not be rewritten, got %d saves", repo.saves)
	}
}

func TestValidAccessToken_Expired_RefreshesOnceAndPersists(t *testing.T) {
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    fixedNow().Add(-time.Hour),
	}}
	client := &fakeOAuthClient{resp: &zoho.TokenResponse{
		AccessToken: "fresh",
		ExpiresIn:   3600,
	}}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	got, err := svc.ValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fresh" {
		t.Fatalf("got %q, want fresh", got)
	}
	if client.calls != 1 || client.lastRefreshTok != "refresh-1" {
		t.Fatalf("expected one refresh with stored token, calls=%d tok=%q", client.calls, client.lastRefreshTok)
	}
	if repo.saves != 1 || repo.savedAccess != "fresh" {
		t.Fatalf("expected persisted access token, saves=%d access=%q", repo.saves, repo.savedAccess)
	}
	wantExpiry := fixedNow().Add(time.Hour)
	if !repo.savedExpiry.Equal(wantExpiry) {
		t.Fatalf("expiry = %v, want %v", repo.savedExpiry, wantExpiry)
	}

	// The next call reuses the freshly stored token without a second refresh.
	got, err = svc.ValidAccessToken(context.Background())
	if err != nil || got != "fresh" {
		t.Fatalf("second call: %q %v", got, err)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one refresh total, got %d", client.calls)
	}
}

func TestValidAccessToken_ExpiryWithinSkew_TreatedAsExpired(t *testing.T) {
	// The stored expiry is 30s away, inside the one-minute skew.
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  "almost-stale",
		RefreshToken: "refresh",
		ExpiresAt:    fixedNow().Add(30 * time.Second),
	}}
	client := &fakeOAuthClient{resp: &zoho.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	got, err := svc.ValidAccessToken(context.Background())
	if err != nil || got != "fresh" {
		t.Fatalf("got %q %v, want fresh", got, err)
	}
	if client.calls != 1 {
		t.Fatalf("expected refresh inside skew window, calls=%d", client.calls)
	}
}

func TestValidAccessToken_NoStoredRecord(t *testing.T) {
	repo := &fakeTokenRepo{getErr: gorm.ErrRecordNotFound}
	svc := NewTokenService(nil, repo, &fakeOAuthClient{}, completeZoho())

	_, err := svc.ValidAccessToken(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
}

func TestValidAccessToken_ExpiredWithoutRefreshToken(t *testing.T) {
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:          domain.CRMTokenID,
		AccessToken: "stale",
		ExpiresAt:   fixedNow().Add(-time.Hour),
	}}
	client := &fakeOAuthClient{}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	_, err := svc.ValidAccessToken(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("no refresh possible without a refresh token, calls=%d", client.calls)
	}
}

func TestValidAccessToken_RefreshFailure_Wrapped(t *testing.T) {
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    fixedNow().Add(-time.Hour),
	}}
	client := &fakeOAuthClient{err: &zoho.APIError{Kind: zoho.KindAuth, StatusCode: 401, Message: "invalid grant"}}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	_, err := svc.ValidAccessToken(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
}

func TestValidAccessToken_PersistFailure_StillReturnsToken(t *testing.T) {
	repo := &fakeTokenRepo{
		tok: &domain.CRMToken{
			ID:           domain.CRMTokenID,
			AccessToken:  "stale",
			RefreshToken: "refresh",
			ExpiresAt:    fixedNow().Add(-time.Hour),
		},
		saveErr: errors.New("disk full"),
	}
	client := &fakeOAuthClient{resp: &zoho.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	got, err := svc.ValidAccessToken(context.Background())
	if err != nil {
		t.Fatalf("persist failure must not fail the caller: %v", err)
	}
	if got != "fresh" {
		t.Fatalf("got %q, want fresh", got)
	}
}

func TestValidAccessToken_RotatedRefreshToken_Persisted(t *testing.T) {
	repo := &fakeTokenRepo{tok: &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		ExpiresAt:    fixedNow().Add(-time.Hour),
	}}
	client := &fakeOAuthClient{resp: &zoho.TokenResponse{
		AccessToken:  "fresh",
		RefreshToken: "new-refresh",
		ExpiresIn:    3600,
	}}
	svc := NewTokenService(nil, repo, client, completeZoho())
	svc.Now = fixedNow

	if _, err := svc.ValidAccessToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.savedRefresh != "new-refresh" {
		t.Fatalf("rotated refresh token not persisted, got %q", repo.savedRefresh)
	}
}

func TestStatus_Views(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		repo := &fakeTokenRepo{getErr: gorm.ErrRecordNotFound}
		svc := NewTokenService(nil, repo, &fakeOAuthClient{}, completeZoho())

		st, err := svc.Status(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !st.Configured || st.TokenValid || st.CanRefresh || st.ExpiresAt != nil {
			t.Fatalf("unexpected status: %+v", st)
		}
	})

	t.Run("valid token with refresh", func(t *testing.T) {
		exp := fixedNow().Add(time.Hour)
		repo := &fakeTokenRepo{tok: &domain.CRMToken{
			ID:           domain.CRMTokenID,
			AccessToken:  "live",
			RefreshToken: "refresh",
			ExpiresAt:    exp,
		}}
		svc := NewTokenService(nil, repo, &fakeOAuthClient{}, completeZoho())
		svc.Now = fixedNow

		st, err := svc.Status(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !st.Configured || !st.TokenValid || !st.CanRefresh {
			t.Fatalf("unexpected status: %+v", st)
		}
		if st.ExpiresAt == nil || !st.ExpiresAt.Equal(exp) {
			t.Fatalf("expires_at = %v, want %v", st.ExpiresAt, exp)
		}
	})

	t.Run("expired token unconfigured env", func(t *testing.T) {
		repo := &fakeTokenRepo{tok: &domain.CRMToken{
			ID:           domain.CRMTokenID,
			AccessToken:  "stale",
			RefreshToken: "refresh",
			ExpiresAt:    fixedNow().Add(-time.Hour),
		}}
		svc := NewTokenService(nil, repo, &fakeOAuthClient{}, config.ZohoConfig{})
		svc.Now = fixedNow

		st, err := svc.Status(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st.Configured || st.TokenValid || !st.CanRefresh {
			t.Fatalf("unexpected status: %+v", st)
		}
	})
}
