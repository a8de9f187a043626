package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/atelierbleu/api/internal/domain"
	"github.com/atelierbleu/api/internal/services"
)

type stubInvoiceService struct {
	getFn        func(context.Context, string) (services.Invoice, error)
	getByOrderFn func(context.Context, string) (services.Invoice, error)
	listFn       func(context.Context, services.InvoiceListFilter) (domain.CursorPage[services.Invoice], error)
	updateFn     func(context.Context, services.InvoiceStatusCommand) (services.Invoice, error)
}

func (s *stubInvoiceService) CreateFromOrder(context.Context, services.CreateInvoiceCommand) (services.InvoiceResult, error) {
	return services.InvoiceResult{}, nil
}

func (s *stubInvoiceService) GetInvoice(ctx context.Context, invoiceID string) (services.Invoice, error) {
	if s.getFn != nil {
		return s.getFn(ctx, invoiceID)
	}
	return services.Invoice{}, nil
}

func (s *stubInvoiceService) GetInvoiceForOrder(ctx context.Context, orderID string) (services.Invoice, error) {
	if s.getByOrderFn != nil {
		return s.getByOrderFn(ctx, orderID)
	}
	return services.Invoice{}, nil
}

func (s *stubInvoiceService) ListInvoices(ctx context.Context, filter services.InvoiceListFilter) (domain.CursorPage[services.Invoice], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Invoice]{}, nil
}

func (s *stubInvoiceService) UpdateStatus(ctx context.Context, cmd services.InvoiceStatusCommand) (services.Invoice, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Invoice{}, nil
}

func newInvoiceRouter(svc services.InvoiceService) http.Handler {
	return NewRouter(WithInvoiceRoutes(NewInvoiceHandlers(svc).Routes))
}

func sampleInvoice() services.Invoice {
	issued := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	return services.Invoice{
		ID:          "inv_1",
		OrderRef:    "ord_1",
		OrderNumber: "AB-2025-000001",
		UserID:      "usr_1",
		Reference:   "INV-2025-000001",
		Status:      domain.InvoiceStatusPaid,
		Lines: []services.InvoiceLine{
			{Name: "Sencha tin", UnitPrice: 100, Discount: 10, Quantity: 2, TVARate: 20, TotalHT: 180, TVAAmount: 36},
		},
		SubtotalHT:    180,
		TVATotal:      36,
		ShippingCost:  15,
		GrandTotalTTC: 231,
		IssuedAt:      issued,
	}
}

func TestGetInvoiceForOrderEndpoint(t *testing.T) {
	svc := &stubInvoiceService{getByOrderFn: func(_ context.Context, orderID string) (services.Invoice, error) {
		if orderID != "ord_1" {
			t.Fatalf("expected ord_1, got %s", orderID)
		}
		return sampleInvoice(), nil
	}}
	router := newInvoiceRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/by-order/ord_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp invoiceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Invoice.Reference != "INV-2025-000001" {
		t.Fatalf("expected reference, got %s", resp.Invoice.Reference)
	}
	if resp.Invoice.GrandTotalTTC != 231 {
		t.Fatalf("expected grand total 231, got %v", resp.Invoice.GrandTotalTTC)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	svc := &stubInvoiceService{getFn: func(context.Context, string) (services.Invoice, error) {
		return services.Invoice{}, fmt.Errorf("%w: gone", services.ErrInvoiceNotFound)
	}}
	router := newInvoiceRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListInvoicesRejectsUnknownStatus(t *testing.T) {
	router := newInvoiceRouter(&stubInvoiceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/?status=draft", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestUpdateInvoiceStatusEndpoint(t *testing.T) {
	var captured services.InvoiceStatusCommand
	svc := &stubInvoiceService{updateFn: func(_ context.Context, cmd services.InvoiceStatusCommand) (services.Invoice, error) {
		captured = cmd
		invoice := sampleInvoice()
		invoice.Status = domain.InvoiceStatusCancelled
		return invoice, nil
	}}
	router := newInvoiceRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv_1:status", strings.NewReader(`{"status":"cancelled"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.InvoiceID != "inv_1" || captured.TargetStatus != "cancelled" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestUpdateInvoiceStatusInvalidState(t *testing.T) {
	svc := &stubInvoiceService{updateFn: func(context.Context, services.InvoiceStatusCommand) (services.Invoice, error) {
		return services.Invoice{}, fmt.Errorf("%w: draft", services.ErrInvoiceInvalidState)
	}}
	router := newInvoiceRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv_1:status", strings.NewReader(`{"status":"draft"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
