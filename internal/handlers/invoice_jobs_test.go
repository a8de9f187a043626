package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atelierbleu/api/internal/services"
)

type stubScheduler struct {
	pending  []services.PendingInvoiceJob
	err      error
	cancelFn func(context.Context, string) error
}

func (s *stubScheduler) ScheduleInvoice(context.Context, services.Order) {}

func (s *stubScheduler) CancelInvoice(context.Context, string) {}

func (s *stubScheduler) PendingJobs(context.Context) ([]services.PendingInvoiceJob, error) {
	return s.pending, s.err
}

func (s *stubScheduler) CancelJob(ctx context.Context, jobID string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, jobID)
	}
	return nil
}

func newAdminRouter(scheduler services.InvoiceScheduler) http.Handler {
	return NewRouter(WithAdminRoutes(NewInvoiceJobHandlers(scheduler).Routes))
}

func TestListInvoiceJobsEndpoint(t *testing.T) {
	runAt := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	scheduler := &stubScheduler{pending: []services.PendingInvoiceJob{
		{
			JobID:   services.InvoiceJobID("ord_1"),
			OrderID: "ord_1",
			State:   "delayed",
			RunAt:   &runAt,
			ETA:     runAt.Format(time.RFC3339Nano),
			MSLeft:  120000,
		},
	}}
	router := newAdminRouter(scheduler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/invoice-jobs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp invoiceJobListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one job, got %d", len(resp.Items))
	}
	if resp.Items[0].OrderID != "ord_1" || resp.Items[0].MSLeft != 120000 {
		t.Fatalf("unexpected job payload %#v", resp.Items[0])
	}
}

func TestCancelInvoiceJobEndpoint(t *testing.T) {
	var cancelled string
	scheduler := &stubScheduler{cancelFn: func(_ context.Context, jobID string) error {
		cancelled = jobID
		return nil
	}}
	router := newAdminRouter(scheduler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/invoice-jobs/ord_1:cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cancelled != "create-invoice:ord_1" {
		t.Fatalf("expected job id create-invoice:ord_1, got %q", cancelled)
	}
}

func TestCancelInvoiceJobSchedulerRejection(t *testing.T) {
	scheduler := &stubScheduler{cancelFn: func(context.Context, string) error {
		return services.ErrSchedulerInvalidJob
	}}
	router := newAdminRouter(scheduler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/invoice-jobs/ord_1:cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
