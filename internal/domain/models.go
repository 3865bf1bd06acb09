// Package domain defines the persistence models for the CRM relay: the
// singleton OAuth token record and the lead queue. These types are mapped
// with GORM and form the core data layer of the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Lead sources. A lead originates either from the quote request form or from
// the site chat assistant; no other origins are accepted.
const (
	SourceQuoteForm = "quote_form"
	SourceChatbot   = "chatbot"
)

// Lead processing statuses. A lead only ever moves forward:
// pending → processing → sent | failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// KnownSource reports whether s is one of the accepted lead origins.
func KnownSource(s string) bool {
	return s == SourceQuoteForm || s == SourceChatbot
}

// CanTransition reports whether a lead status may move from one value to
// another. Transitions are strictly forward; a failed lead is only returned
// to pending by an explicit operator requeue, which is modeled as a separate
// operation rather than a transition here.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusSent || to == StatusFailed
	case StatusProcessing:
		return to == StatusSent || to == StatusFailed
	default:
		return false
	}
}

// CRMTokenID is the fixed primary key of the singleton token row. The token
// record is created once during the initial OAuth authorization and mutated
// in place on every refresh; it is never duplicated or deleted.
const CRMTokenID = "zoho-crm"

// CRMToken is the persisted OAuth credential record for the one Zoho CRM
// account this service talks to.
//
// Fields:
//   - ID: fixed singleton identifier (CRMTokenID).
//   - AccessToken: short-lived bearer credential (~1 hour).
//   - RefreshToken: long-lived credential used to mint new access tokens.
//   - ExpiresAt: absolute expiry computed from expires_in at refresh time.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// Tokens are never serialized into JSON responses.
type CRMToken struct {
	ID           string    `json:"-" gorm:"type:varchar(32);primaryKey"`
	AccessToken  string    `json:"-" gorm:"type:varchar(4096)"`
	RefreshToken string    `json:"-" gorm:"type:varchar(4096)"`
	ExpiresAt    time.Time `json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for CRMToken.
func (CRMToken) TableName() string { return "crm_tokens" }

// Expired reports whether the access token is missing or past expiry at the
// given instant, after subtracting skew so an in-flight CRM call never
// straddles the real expiry.
func (t CRMToken) Expired(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// Lead represents one inbound form submission awaiting relay to the CRM.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Source: origin of the submission (quote_form|chatbot), indexed for
//     per-source backlog reporting.
//   - Name / Email: required contact fields; Phone / Company optional.
//   - Message: free-text inquiry body; ProductName / ProductURL optionally
//     tie the inquiry to a catalog item.
//   - Status: processing state (pending|processing|sent|failed), indexed for
//     the pending-queue fetch.
//   - RetryCount: relay attempts consumed so far, kept for audit.
//   - ZohoLeadID: CRM-side lead id, present iff Status is sent.
//   - ErrorMessage: terminal failure description, set when Status is failed.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker; leads are retained indefinitely for
//     audit and are never deleted by the relay itself.
type Lead struct {
	ID           string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Source       string         `json:"source"       gorm:"type:varchar(16);not null;index:idx_leads_source;check:source IN ('quote_form','chatbot')"`
	Name         string         `json:"name"         gorm:"type:varchar(255);not null"`
	Email        string         `json:"email"        gorm:"type:varchar(255);not null"`
	Phone        string         `json:"phone,omitempty"   gorm:"type:varchar(64)"`
	Company      string         `json:"company,omitempty" gorm:"type:varchar(255)"`
	Message      string         `json:"message"      gorm:"type:text;not null"`
	ProductName  string         `json:"product_name,omitempty" gorm:"type:varchar(255)"`
	ProductURL   string         `json:"product_url,omitempty"  gorm:"type:varchar(1024)"`
	Status       string         `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index:idx_leads_status;check:status IN ('pending','processing','sent','failed')"`
	RetryCount   int            `json:"retry_count"  gorm:"not null;default:0"`
	ZohoLeadID   string         `json:"zoho_lead_id,omitempty"  gorm:"type:varchar(64)"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at"   gorm:"index:idx_leads_created"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string { return "leads" }
