package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/perfect-automation/go-crm-relay/internal/domain"
	"github.com/perfect-automation/go-crm-relay/internal/repo"
)

// --- fakes ---

type fakeLeadStore struct {
	leads map[string]*domain.Lead

	createErr  error
	requeueErr error

	creates  int
	requeues []string
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{leads: map[string]*domain.Lead{}}
}

func (f *fakeLeadStore) Create(_ context.Context, _ *gorm.DB, in repo.NewLead) (*domain.Lead, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	lead := &domain.Lead{
		ID:          uuid.NewString(),
		Source:      in.Source,
		Name:        in.Name,
		Email:       in.Email,
		Phone:       in.Phone,
		Company:     in.Company,
		Message:     in.Message,
		ProductName: in.ProductName,
		ProductURL:  in.ProductURL,
		Status:      domain.StatusPending,
	}
	f.leads[lead.ID] = lead
	return lead, nil
}

func (f *fakeLeadStore) Get(_ context.Context, _ *gorm.DB, id string) (*domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return lead, nil
}

func (f *fakeLeadStore) ListPage(_ context.Context, _ *gorm.DB, status string, offset, limit int) ([]domain.Lead, error) {
	var out []domain.Lead
	for _, l := range f.leads {
		if status == "" || l.Status == status {
			out = append(out, *l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLeadStore) Count(_ context.Context, _ *gorm.DB) (int64, error) {
	return int64(len(f.leads)), nil
}

func (f *fakeLeadStore) Requeue(_ context.Context, _ *gorm.DB, id string) error {
	f.requeues = append(f.requeues, id)
	if f.requeueErr != nil {
		return f.requeueErr
	}
	lead, ok := f.leads[id]
	if !ok || lead.Status != domain.StatusFailed {
		return repo.ErrNotFound
	}
	lead.Status = domain.StatusPending
	return nil
}

type fakeIdemStore struct {
	entries map[string]*domain.Idempotency // source + "\x00" + key

	createErr error
	getErr    error
	creates   int
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{entries: map[string]*domain.Idempotency{}}
}

func idemKey(source, key string) string { return source + "\x00" + key }

func (f *fakeIdemStore) Get(_ context.Context, _ *gorm.DB, source, key string, now time.Time) (*domain.Idempotency, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[idemKey(source, key)]
	if !ok || entry.ExpiresAt.Before(now) {
		return nil, gorm.ErrRecordNotFound
	}
	return entry, nil
}

func (f *fakeIdemStore) Create(_ context.Context, _ *gorm.DB, source, key, leadID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	k := idemKey(source, key)
	if _, exists := f.entries[k]; exists {
		return nil, repo.ErrDuplicate
	}
	f.creates++
	entry := &domain.Idempotency{
		ID:        uuid.NewString(),
		Source:    source,
		Key:       key,
		LeadID:    leadID,
		Status:    status,
		ExpiresAt: time.Now().Add(ttl),
	}
	f.entries[k] = entry
	return entry, nil
}

func validInput() LeadInput {
	return LeadInput{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Message: "Need a palletizer quote",
	}
}

// --- intake ---

func TestLeadCreate_UnknownSource(t *testing.T) {
	svc := NewLeadService(nil, newFakeLeadStore(), newFakeIdemStore())
	_, _, err := svc.Create(context.Background(), "carrier_pigeon", "", validInput())
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestLeadCreate_RequiresContact(t *testing.T) {
	store := newFakeLeadStore()
	svc := NewLeadService(nil, store, newFakeIdemStore())

	in := LeadInput{Name: "Nobody", Email: "   ", Phone: "\t"}
	_, _, err := svc.Create(context.Background(), domain.SourceQuoteForm, "", in)
	if !errors.Is(err, ErrNoContact) {
		t.Fatalf("expected ErrNoContact, got %v", err)
	}
	if store.creates != 0 {
		t.Fatalf("no lead should be persisted")
	}
}

func TestLeadCreate_TrimsFields(t *testing.T) {
	store := newFakeLeadStore()
	svc := NewLeadService(nil, store, newFakeIdemStore())

	in := LeadInput{
		Name:    "  Ada Lovelace  ",
		Email:   " ada@example.com ",
		Company: " Analytical Engines ",
		Message: " quote please ",
	}
	lead, replayed, err := svc.Create(context.Background(), domain.SourceChatbot, "", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed {
		t.Fatalf("fresh submission reported as replay")
	}
	if lead.Name != "Ada Lovelace" || lead.Email != "ada@example.com" ||
		lead.Company != "Analytical Engines" || lead.Message != "quote please" {
		t.Fatalf("fields not trimmed: %+v", lead)
	}
	if lead.Source != domain.SourceChatbot || lead.Status != domain.StatusPending {
		t.Fatalf("lead = %+v", lead)
	}
}

func TestLeadCreate_IdempotentReplay(t *testing.T) {
	store := newFakeLeadStore()
	idem := newFakeIdemStore()
	svc := NewLeadService(nil, store, idem)

	first, replayed, err := svc.Create(context.Background(), domain.SourceQuoteForm, "retry-1", validInput())
	if err != nil || replayed {
		t.Fatalf("first submission: lead=%v replayed=%v err=%v", first, replayed, err)
	}
	if idem.creates != 1 {
		t.Fatalf("idempotency entry not stored")
	}

	second, replayed, err := svc.Create(context.Background(), domain.SourceQuoteForm, "retry-1", validInput())
	if err != nil {
		t.Fatalf("replay errored: %v", err)
	}
	if !replayed || second.ID != first.ID {
		t.Fatalf("expected replay of %s, got %s replayed=%v", first.ID, second.ID, replayed)
	}
	if store.creates != 1 {
		t.Fatalf("replay must not insert a second lead, creates=%d", store.creates)
	}
}

func TestLeadCreate_SameKeyDifferentSource_CreatesBoth(t *testing.T) {
	store := newFakeLeadStore()
	svc := NewLeadService(nil, store, newFakeIdemStore())

	a, _, err := svc.Create(context.Background(), domain.SourceQuoteForm, "k", validInput())
	if err != nil {
		t.Fatalf("quote intake: %v", err)
	}
	b, replayed, err := svc.Create(context.Background(), domain.SourceChatbot, "k", validInput())
	if err != nil {
		t.Fatalf("chat intake: %v", err)
	}
	if replayed || a.ID == b.ID {
		t.Fatalf("keys are scoped per source; got replay=%v ids %s/%s", replayed, a.ID, b.ID)
	}
}

func TestLeadCreate_DuplicateRace_ServesWinner(t *testing.T) {
	store := newFakeLeadStore()
	idem := newFakeIdemStore()
	svc := NewLeadService(nil, store, idem)

	// Simulate the concurrent winner: its lead and entry already exist, but
	// our request missed the pre-insert lookup (entry written in between).
	winner, _ := store.Create(context.Background(), nil, repo.NewLead{
		Source: domain.SourceQuoteForm, Email: "ada@example.com",
	})
	raced := &racingIdemStore{fakeIdemStore: idem, winnerLeadID: winner.ID}
	svc.Idem = raced

	lead, replayed, err := svc.Create(context.Background(), domain.SourceQuoteForm, "race-1", validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replayed || lead.ID != winner.ID {
		t.Fatalf("expected the stored winner %s, got %s replayed=%v", winner.ID, lead.ID, replayed)
	}
}

// racingIdemStore misses the first Get, fails Create with ErrDuplicate, then
// serves the winner's entry, modelling a lost insert race.
type racingIdemStore struct {
	*fakeIdemStore
	winnerLeadID string
	gets         int
}

func (r *racingIdemStore) Get(_ context.Context, _ *gorm.DB, source, key string, _ time.Time) (*domain.Idempotency, error) {
	r.gets++
	if r.gets == 1 {
		return nil, gorm.ErrRecordNotFound
	}
	return &domain.Idempotency{Source: source, Key: key, LeadID: r.winnerLeadID, Status: 202}, nil
}

func (r *racingIdemStore) Create(context.Context, *gorm.DB, string, string, string, int, time.Duration) (*domain.Idempotency, error) {
	return nil, repo.ErrDuplicate
}

func TestLeadCreate_EntryWriteFailure_Tolerated(t *testing.T) {
	store := newFakeLeadStore()
	idem := newFakeIdemStore()
	idem.createErr = errors.New("disk full")
	svc := NewLeadService(nil, store, idem)

	lead, replayed, err := svc.Create(context.Background(), domain.SourceQuoteForm, "k-1", validInput())
	if err != nil || replayed || lead == nil {
		t.Fatalf("intake must survive a failed entry write: lead=%v replayed=%v err=%v", lead, replayed, err)
	}
}

func TestLeadCreate_ExpiredEntry_NotReplayed(t *testing.T) {
	store := newFakeLeadStore()
	idem := newFakeIdemStore()
	svc := NewLeadService(nil, store, idem)
	svc.TTL = time.Hour

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return base }
	if _, _, err := svc.Create(context.Background(), domain.SourceQuoteForm, "short", validInput()); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	// Force the stored entry past its window.
	idem.entries[idemKey(domain.SourceQuoteForm, "short")].ExpiresAt = base.Add(-time.Minute)

	lead, replayed, err := svc.Create(context.Background(), domain.SourceQuoteForm, "short", validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed || lead.ID == "" {
		t.Fatalf("expired entry must not replay: lead=%v replayed=%v", lead, replayed)
	}
	if store.creates != 2 {
		t.Fatalf("expired entry must not suppress a new lead, creates=%d", store.creates)
	}
}

// --- queries ---

func TestLeadGet_NotFound(t *testing.T) {
	svc := NewLeadService(nil, newFakeLeadStore(), nil)
	if _, err := svc.Get(context.Background(), uuid.NewString()); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestLeadListPage_NormalizesPaging(t *testing.T) {
	store := newFakeLeadStore()
	svc := NewLeadService(nil, store, nil)
	for i := 0; i < 3; i++ {
		if _, _, err := svc.Create(context.Background(), domain.SourceQuoteForm, "", validInput()); err != nil {
			t.Fatalf("seed lead: %v", err)
		}
	}

	items, total, err := svc.ListPage(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d", total)
	}
	// page and pageSize are clamped to 1.
	if len(items) != 1 {
		t.Fatalf("expected one item for clamped page size, got %d", len(items))
	}
}

// --- requeue ---

func TestLeadRequeue(t *testing.T) {
	store := newFakeLeadStore()
	svc := NewLeadService(nil, store, nil)

	failed, _ := store.Create(context.Background(), nil, repo.NewLead{
		Source: domain.SourceQuoteForm, Email: "a@example.com",
	})
	failed.Status = domain.StatusFailed
	sent, _ := store.Create(context.Background(), nil, repo.NewLead{
		Source: domain.SourceQuoteForm, Email: "b@example.com",
	})
	sent.Status = domain.StatusSent

	t.Run("failed lead returns to pending", func(t *testing.T) {
		if err := svc.Requeue(context.Background(), failed.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if failed.Status != domain.StatusPending {
			t.Fatalf("status = %s", failed.Status)
		}
	})

	t.Run("missing lead maps to not found", func(t *testing.T) {
		if err := svc.Requeue(context.Background(), uuid.NewString()); !errors.Is(err, ErrLeadNotFound) {
			t.Fatalf("expected ErrLeadNotFound, got %v", err)
		}
	})

	t.Run("non-failed lead maps to not requeueable", func(t *testing.T) {
		if err := svc.Requeue(context.Background(), sent.ID); !errors.Is(err, ErrLeadNotRequeueable) {
			t.Fatalf("expected ErrLeadNotRequeueable, got %v", err)
		}
	})
}

// --- middleware lookup ---

func TestHasSubmission(t *testing.T) {
	store := newFakeLeadStore()
	idem := newFakeIdemStore()
	svc := NewLeadService(nil, store, idem)

	now := time.Now()
	if ok, err := svc.HasSubmission(context.Background(), domain.SourceQuoteForm, "k", now); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if _, _, err := svc.Create(context.Background(), domain.SourceQuoteForm, "k", validInput()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, err := svc.HasSubmission(context.Background(), domain.SourceQuoteForm, "k", now); err != nil || !ok {
		t.Fatalf("stored entry: ok=%v err=%v", ok, err)
	}
	// Scoped by source.
	if ok, _ := svc.HasSubmission(context.Background(), domain.SourceChatbot, "k", now); ok {
		t.Fatalf("entry leaked across sources")
	}
}
