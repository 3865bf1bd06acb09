package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

func TestGetCRMToken_NeverAuthorized(t *testing.T) {
	db := testDB(t)
	if _, err := GetCRMToken(context.Background(), db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeedCRMToken_Singleton(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).UTC()

	seeded, err := SeedCRMToken(ctx, db, "at-1", "rt-1", expiry)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if seeded.ID != domain.CRMTokenID {
		t.Fatalf("id = %q", seeded.ID)
	}

	// A second seed is a no-op, never a second row.
	again, err := SeedCRMToken(ctx, db, "at-other", "rt-other", expiry.Add(time.Hour))
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again.AccessToken != "at-1" || again.RefreshToken != "rt-1" {
		t.Fatalf("reseed overwrote the row: %+v", again)
	}

	var count int64
	if err := db.Model(&domain.CRMToken{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("token rows = %d", count)
	}
}

func TestUpdateAccessToken(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := SeedCRMToken(ctx, db, "at-1", "rt-1", time.Now().UTC()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("refresh keeps the stored refresh token", func(t *testing.T) {
		newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		if err := UpdateAccessToken(ctx, db, "at-2", "", newExpiry); err != nil {
			t.Fatalf("update: %v", err)
		}
		tok, err := GetCRMToken(ctx, db)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if tok.AccessToken != "at-2" || tok.RefreshToken != "rt-1" {
			t.Fatalf("token = %+v", tok)
		}
		if !tok.ExpiresAt.Equal(newExpiry) {
			t.Fatalf("expires_at = %v, want %v", tok.ExpiresAt, newExpiry)
		}
	})

	t.Run("rotation replaces the refresh token", func(t *testing.T) {
		if err := UpdateAccessToken(ctx, db, "at-3", "rt-2", time.Now().Add(time.Hour).UTC()); err != nil {
			t.Fatalf("update: %v", err)
		}
		tok, err := GetCRMToken(ctx, db)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if tok.AccessToken != "at-3" || tok.RefreshToken != "rt-2" {
			t.Fatalf("token = %+v", tok)
		}
	})
}

func TestUpdateAccessToken_MissingRow(t *testing.T) {
	db := testDB(t)
	err := UpdateAccessToken(context.Background(), db, "at", "", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
