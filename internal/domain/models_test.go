package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestKnownSource(t *testing.T) {
	for _, s := range []string{SourceQuoteForm, SourceChatbot} {
		if !KnownSource(s) {
			t.Fatalf("KnownSource(%q) = false", s)
		}
	}
	for _, s := range []string{"", "email", "Quote_Form", "QUOTE_FORM", "webhook"} {
		if KnownSource(s) {
			t.Fatalf("KnownSource(%q) = true", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusSent},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusSent},
		{StatusProcessing, StatusFailed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}

	// Terminal states never move; nothing moves backwards.
	forbidden := [][2]string{
		{StatusSent, StatusPending},
		{StatusSent, StatusProcessing},
		{StatusSent, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusProcessing},
		{StatusFailed, StatusSent},
		{StatusProcessing, StatusPending},
		{"bogus", StatusSent},
	}
	for _, tr := range forbidden {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be forbidden", tr[0], tr[1])
		}
	}
}

func TestCRMToken_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	skew := time.Minute

	cases := []struct {
		name  string
		token CRMToken
		want  bool
	}{
		{"no access token", CRMToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"well before expiry", CRMToken{AccessToken: "at", ExpiresAt: now.Add(time.Hour)}, false},
		{"already past expiry", CRMToken{AccessToken: "at", ExpiresAt: now.Add(-time.Second)}, true},
		{"exactly at expiry", CRMToken{AccessToken: "at", ExpiresAt: now}, true},
		// Within the skew window: nominally valid, treated as expired so an
		// in-flight CRM call cannot straddle the real expiry.
		{"inside skew window", CRMToken{AccessToken: "at", ExpiresAt: now.Add(30 * time.Second)}, true},
		{"exactly at skew boundary", CRMToken{AccessToken: "at", ExpiresAt: now.Add(skew)}, true},
		{"just outside skew window", CRMToken{AccessToken: "at", ExpiresAt: now.Add(skew + time.Second)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.token.Expired(now, skew); got != tc.want {
				t.Fatalf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCRMToken_NeverSerializesSecrets(t *testing.T) {
	tok := CRMToken{
		ID:           CRMTokenID,
		AccessToken:  "super-secret-access",
		RefreshToken: "super-secret-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("token marshalled fields: %s", raw)
	}
}

func TestLead_JSONShape(t *testing.T) {
	lead := Lead{
		ID:      "id-1",
		Source:  SourceQuoteForm,
		Name:    "Ada",
		Email:   "ada@example.com",
		Message: "quote",
		Status:  StatusPending,
	}
	raw, err := json.Marshal(lead)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	// Empty optionals are omitted; the soft-delete marker never appears.
	for _, absent := range []string{"phone", "company", "product_name", "zoho_lead_id", "error_message", "DeletedAt", "deleted_at"} {
		if strings.Contains(s, absent) {
			t.Fatalf("unexpected field %q in %s", absent, s)
		}
	}
	for _, present := range []string{`"id"`, `"source"`, `"status"`, `"retry_count"`} {
		if !strings.Contains(s, present) {
			t.Fatalf("missing field %q in %s", present, s)
		}
	}
}

func TestTableNames(t *testing.T) {
	if (CRMToken{}).TableName() != "crm_tokens" {
		t.Fatalf("crm token table = %q", CRMToken{}.TableName())
	}
	if (Lead{}).TableName() != "leads" {
		t.Fatalf("lead table = %q", Lead{}.TableName())
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("idempotency table = %q", Idempotency{}.TableName())
	}
}
