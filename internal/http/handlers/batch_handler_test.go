package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/perfect-automation/go-crm-relay/internal/services"
)

func TestRunBatch_Success(t *testing.T) {
	batch := &fakeBatchService{summary: services.BatchSummary{
		Processed: 5, Successful: 4, Failed: 1,
		Errors: []string{"lead x: zoho_api_error 500: boom"},
	}}
	r := newTestRouter(New(&fakeLeadService{}, batch, &fakeHealthService{}, 25))

	w := doJSON(t, r, http.MethodPost, "/admin/batch/run?limit=50", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if batch.gotLimit != 50 {
		t.Fatalf("limit = %d, want 50", batch.gotLimit)
	}
	var summary services.BatchSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Processed != 5 || summary.Failed != 1 || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunBatch_DefaultLimit(t *testing.T) {
	batch := &fakeBatchService{}
	r := newTestRouter(New(&fakeLeadService{}, batch, &fakeHealthService{}, 25))

	w := doJSON(t, r, http.MethodPost, "/admin/batch/run", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if batch.gotLimit != 25 {
		t.Fatalf("limit = %d, want configured default 25", batch.gotLimit)
	}
}

func TestRunBatch_Errors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"limit out of range", fmt.Errorf("%w: got 0", services.ErrBatchLimit), http.StatusBadRequest, ErrCodeBatchLimit},
		{"run in flight", services.ErrBatchBusy, http.StatusConflict, ErrCodeBatchBusy},
		{"storage failure", fmt.Errorf("db gone"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batch := &fakeBatchService{err: tc.err}
			r := newTestRouter(New(&fakeLeadService{}, batch, &fakeHealthService{}, 25))
			w := doJSON(t, r, http.MethodPost, "/admin/batch/run", "", nil)
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if resp := decodeErr(t, w); resp.Code != tc.wantErr {
				t.Fatalf("code = %q, want %q", resp.Code, tc.wantErr)
			}
		})
	}
}

func TestRequeueLead(t *testing.T) {
	t.Run("success answers no content", func(t *testing.T) {
		svc := &fakeLeadService{}
		r := newTestRouter(New(svc, &fakeBatchService{}, &fakeHealthService{}, 25))
		id := uuid.NewString()
		w := doJSON(t, r, http.MethodPost, "/admin/leads/"+id+"/requeue", "", nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		if svc.requeuedID != id {
			t.Fatalf("requeued %q, want %q", svc.requeuedID, id)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		r := newTestRouter(New(&fakeLeadService{}, &fakeBatchService{}, &fakeHealthService{}, 25))
		w := doJSON(t, r, http.MethodPost, "/admin/leads/nope/requeue", "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("missing lead", func(t *testing.T) {
		svc := &fakeLeadService{requeueErr: services.ErrLeadNotFound}
		r := newTestRouter(New(svc, &fakeBatchService{}, &fakeHealthService{}, 25))
		w := doJSON(t, r, http.MethodPost, "/admin/leads/"+uuid.NewString()+"/requeue", "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("lead not in failed state", func(t *testing.T) {
		svc := &fakeLeadService{requeueErr: services.ErrLeadNotRequeueable}
		r := newTestRouter(New(svc, &fakeBatchService{}, &fakeHealthService{}, 25))
		w := doJSON(t, r, http.MethodPost, "/admin/leads/"+uuid.NewString()+"/requeue", "", nil)
		if w.Code != http.StatusConflict {
			t.Fatalf("status = %d", w.Code)
		}
		if resp := decodeErr(t, w); resp.Code != ErrCodeLeadNotRequeueable {
			t.Fatalf("code = %q", resp.Code)
		}
	})
}
