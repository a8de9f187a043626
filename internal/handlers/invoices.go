package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelierbleu/api/internal/domain"
	"github.com/atelierbleu/api/internal/platform/httpx"
	"github.com/atelierbleu/api/internal/services"
)

const (
	defaultInvoicePageSize = 20
	maxInvoicePageSize     = 100
	maxInvoiceBodySize     = 8 * 1024
)

type invoiceStatusRequest struct {
	Status string `json:"status"`
}

// InvoiceHandlers exposes the invoice endpoints.
type InvoiceHandlers struct {
	invoices services.InvoiceService
}

// NewInvoiceHandlers constructs a new InvoiceHandlers instance.
func NewInvoiceHandlers(invoices services.InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{invoices: invoices}
}

// Routes registers the /invoices endpoints.
func (h *InvoiceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listInvoices)
	r.Get("/{invoiceID}", h.getInvoice)
	r.Get("/by-order/{orderID}", h.getInvoiceForOrder)
	r.Post("/{invoiceID}:status", h.updateStatus)
}

func (h *InvoiceHandlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var statuses []domain.InvoiceStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.InvoiceStatus(raw)
		if status != domain.InvoiceStatusPaid && status != domain.InvoiceStatusCancelled {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter must be paid or cancelled", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultInvoicePageSize, maxInvoicePageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.invoices.ListInvoices(ctx, services.InvoiceListFilter{
		Statuses: statuses,
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Page: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	items := make([]invoicePayload, 0, len(page.Items))
	for _, invoice := range page.Items {
		items = append(items, buildInvoicePayload(invoice))
	}

	writeJSONResponse(w, http.StatusOK, invoiceListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	invoiceID := strings.TrimSpace(chi.URLParam(r, "invoiceID"))
	if invoiceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invoice id is required", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *InvoiceHandlers) getInvoiceForOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.GetInvoiceForOrder(ctx, orderID)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *InvoiceHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	invoiceID := strings.TrimSpace(chi.URLParam(r, "invoiceID"))
	if invoiceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invoice id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxInvoiceBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req invoiceStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.UpdateStatus(ctx, services.InvoiceStatusCommand{
		InvoiceID:    invoiceID,
		TargetStatus: strings.TrimSpace(strings.ToLower(req.Status)),
	})
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

type invoiceListResponse struct {
	Items         []invoicePayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	ID            string               `json:"id"`
	OrderRef      string               `json:"order_ref"`
	OrderNumber   string               `json:"order_number,omitempty"`
	UserID        string               `json:"user_id,omitempty"`
	Reference     string               `json:"reference"`
	Status        string               `json:"status"`
	Lines         []invoiceLinePayload `json:"lines"`
	SubtotalHT    float64              `json:"subtotal_ht"`
	TVATotal      float64              `json:"tva_total"`
	ShippingCost  float64              `json:"shipping_cost"`
	GrandTotalTTC float64              `json:"grand_total_ttc"`
	IssuedAt      string               `json:"issued_at"`
	PaidAt        string               `json:"paid_at,omitempty"`
	CancelledAt   string               `json:"cancelled_at,omitempty"`
}

type invoiceLinePayload struct {
	ProductRef string  `json:"product_ref,omitempty"`
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unit_price"`
	Discount   float64 `json:"discount,omitempty"`
	Quantity   int     `json:"quantity"`
	TVARate    float64 `json:"tva_rate"`
	TotalHT    float64 `json:"total_ht"`
	TVAAmount  float64 `json:"tva_amount"`
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	lines := make([]invoiceLinePayload, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lines = append(lines, invoiceLinePayload{
			ProductRef: line.ProductRef,
			Name:       line.Name,
			UnitPrice:  line.UnitPrice,
			Discount:   line.Discount,
			Quantity:   line.Quantity,
			TVARate:    line.TVARate,
			TotalHT:    line.TotalHT,
			TVAAmount:  line.TVAAmount,
		})
	}

	return invoicePayload{
		ID:            invoice.ID,
		OrderRef:      invoice.OrderRef,
		OrderNumber:   invoice.OrderNumber,
		UserID:        invoice.UserID,
		Reference:     invoice.Reference,
		Status:        string(invoice.Status),
		Lines:         lines,
		SubtotalHT:    invoice.SubtotalHT,
		TVATotal:      invoice.TVATotal,
		ShippingCost:  invoice.ShippingCost,
		GrandTotalTTC: invoice.GrandTotalTTC,
		IssuedAt:      formatTime(invoice.IssuedAt),
		PaidAt:        formatTimePtr(invoice.PaidAt),
		CancelledAt:   formatTimePtr(invoice.CancelledAt),
	}
}

func writeInvoiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvoiceInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invoice_error", "failed to process invoice request", http.StatusInternalServerError))
	}
}
