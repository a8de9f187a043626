package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atelierbleu/api/internal/platform/httpx"
	"github.com/atelierbleu/api/internal/services"
)

// InvoiceJobHandlers exposes queue introspection endpoints under /admin.
type InvoiceJobHandlers struct {
	scheduler services.InvoiceScheduler
}

// NewInvoiceJobHandlers constructs a new InvoiceJobHandlers instance.
func NewInvoiceJobHandlers(scheduler services.InvoiceScheduler) *InvoiceJobHandlers {
	return &InvoiceJobHandlers{scheduler: scheduler}
}

// Routes registers the invoice job endpoints.
func (h *InvoiceJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/invoice-jobs", h.listJobs)
	r.Post("/invoice-jobs/{orderID}:cancel", h.cancelJob)
}

func (h *InvoiceJobHandlers) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scheduler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduler_unavailable", "invoice scheduler unavailable", http.StatusServiceUnavailable))
		return
	}

	jobs, err := h.scheduler.PendingJobs(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_jobs_error", "failed to list invoice jobs", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceJobListResponse{Items: jobs})
}

func (h *InvoiceJobHandlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scheduler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("scheduler_unavailable", "invoice scheduler unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	jobID := services.InvoiceJobID(orderID)
	if err := h.scheduler.CancelJob(ctx, jobID); err != nil {
		if errors.Is(err, services.ErrSchedulerInvalidJob) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "job id is not an invoice job", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invoice_jobs_error", "failed to cancel invoice job", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": jobID})
}

type invoiceJobListResponse struct {
	Items []services.PendingInvoiceJob `json:"items"`
}
