package repo

import (
	"context"
	"testing"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
)

func TestCollectLeadStats_Empty(t *testing.T) {
	db := testDB(t)
	stats, err := CollectLeadStats(context.Background(), db)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Total != 0 || stats.SuccessRate != 0 {
		t.Fatalf("fresh deployment stats = %+v", stats)
	}
	// The per-source map is always populated so JSON consumers see both keys.
	if _, ok := stats.PendingBySource[domain.SourceQuoteForm]; !ok {
		t.Fatalf("quote_form key missing: %v", stats.PendingBySource)
	}
	if _, ok := stats.PendingBySource[domain.SourceChatbot]; !ok {
		t.Fatalf("chatbot key missing: %v", stats.PendingBySource)
	}
}

func TestCollectLeadStats_Aggregates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	moveTo := func(id, status string) {
		t.Helper()
		err := db.Model(&domain.Lead{}).Where("id = ?", id).Update("status", status).Error
		if err != nil {
			t.Fatalf("move %s to %s: %v", id, status, err)
		}
	}

	// 2 quote pending, 1 chat pending, 1 processing, 3 sent, 1 failed.
	mustCreateLead(t, db, domain.SourceQuoteForm)
	mustCreateLead(t, db, domain.SourceQuoteForm)
	mustCreateLead(t, db, domain.SourceChatbot)
	moveTo(mustCreateLead(t, db, domain.SourceChatbot).ID, domain.StatusProcessing)
	moveTo(mustCreateLead(t, db, domain.SourceQuoteForm).ID, domain.StatusSent)
	moveTo(mustCreateLead(t, db, domain.SourceChatbot).ID, domain.StatusSent)
	moveTo(mustCreateLead(t, db, domain.SourceChatbot).ID, domain.StatusSent)
	moveTo(mustCreateLead(t, db, domain.SourceQuoteForm).ID, domain.StatusFailed)

	stats, err := CollectLeadStats(ctx, db)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Pending != 3 || stats.Processing != 1 || stats.Sent != 3 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Total != 8 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.PendingBySource[domain.SourceQuoteForm] != 2 || stats.PendingBySource[domain.SourceChatbot] != 1 {
		t.Fatalf("pending by source = %v", stats.PendingBySource)
	}
	if stats.SuccessRate != 0.75 {
		t.Fatalf("success rate = %v, want 0.75", stats.SuccessRate)
	}
}
