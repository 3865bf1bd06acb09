// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the singleton
// CRM token record.
//
// The token row is keyed by the fixed domain.CRMTokenID and mutated in place
// on every refresh; these helpers never create a second row. All functions
// are context-aware and accept a *gorm.DB handle, making them safe for use
// within transactions.
//
// Error semantics:
//   - When the token row does not exist, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetCRMToken fetches the singleton token row, or ErrNotFound when the
// initial OAuth authorization has never been performed.
func GetCRMToken(ctx context.Context, db *gorm.DB) (*domain.CRMToken, error) {
	var t domain.CRMToken
	err := db.WithContext(ctx).
		Where("id = ?", domain.CRMTokenID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateAccessToken overwrites the access token and expiry of the singleton
// row in place after a successful refresh. The refresh token is only touched
// when Zoho rotated it (newRefreshToken non-empty). Returns ErrNotFound when
// the row is missing, since a refresh without a stored record is a logic bug.
func UpdateAccessToken(ctx context.Context, db *gorm.DB, accessToken, newRefreshToken string, expiresAt time.Time) error {
	fields := map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt,
		"updated_at":   time.Now().UTC(),
	}
	if newRefreshToken != "" {
		fields["refresh_token"] = newRefreshToken
	}
	res := db.WithContext(ctx).
		Model(&domain.CRMToken{}).
		Where("id = ?", domain.CRMTokenID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedCRMToken inserts the singleton row if it does not exist yet. It is used
// by the one-time authorization bootstrap and by tests; normal operation only
// ever updates the existing row.
func SeedCRMToken(ctx context.Context, db *gorm.DB, accessToken, refreshToken string, expiresAt time.Time) (*domain.CRMToken, error) {
	t := &domain.CRMToken{
		ID:           domain.CRMTokenID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).FirstOrCreate(t, domain.CRMToken{ID: domain.CRMTokenID}).Error; err != nil {
		return nil, err
	}
	return t, nil
}
