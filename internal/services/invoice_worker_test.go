package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/atelierbleu/api/internal/domain"
	"github.com/atelierbleu/api/internal/platform/queue"
)

type stubInvoiceService struct {
	createFn func(context.Context, CreateInvoiceCommand) (InvoiceResult, error)
}

func (s *stubInvoiceService) CreateFromOrder(ctx context.Context, cmd CreateInvoiceCommand) (InvoiceResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return InvoiceResult{Outcome: InvoiceOutcomeCreated}, nil
}

func (s *stubInvoiceService) GetInvoice(context.Context, string) (Invoice, error) {
	return Invoice{}, nil
}

func (s *stubInvoiceService) GetInvoiceForOrder(context.Context, string) (Invoice, error) {
	return Invoice{}, nil
}

func (s *stubInvoiceService) ListInvoices(context.Context, InvoiceListFilter) (domain.CursorPage[Invoice], error) {
	return domain.CursorPage[Invoice]{}, nil
}

func (s *stubInvoiceService) UpdateStatus(context.Context, InvoiceStatusCommand) (Invoice, error) {
	return Invoice{}, nil
}

func invoiceJob(orderID string) queue.Job {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return queue.NewJob(InvoiceJobID(orderID), JobKindCreateInvoice, orderID, 0, now, queue.Options{})
}

func TestInvoiceJobHandlerCompletesOnCreated(t *testing.T) {
	var gotOrder string
	svc := &stubInvoiceService{createFn: func(_ context.Context, cmd CreateInvoiceCommand) (InvoiceResult, error) {
		gotOrder = cmd.OrderID
		return InvoiceResult{Outcome: InvoiceOutcomeCreated, Invoice: Invoice{ID: "inv_1"}}, nil
	}}
	handler := NewInvoiceJobHandler(svc, nil)

	if err := handler(context.Background(), invoiceJob("ord_1")); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotOrder != "ord_1" {
		t.Fatalf("expected order ord_1, got %s", gotOrder)
	}
}

func TestInvoiceJobHandlerCompletesOnAlreadyInvoiced(t *testing.T) {
	svc := &stubInvoiceService{createFn: func(context.Context, CreateInvoiceCommand) (InvoiceResult, error) {
		return InvoiceResult{Outcome: InvoiceOutcomeAlreadyInvoiced}, nil
	}}
	handler := NewInvoiceJobHandler(svc, nil)

	if err := handler(context.Background(), invoiceJob("ord_1")); err != nil {
		t.Fatalf("already invoiced must complete the job, got %v", err)
	}
}

func TestInvoiceJobHandlerTerminalOnMissingOrder(t *testing.T) {
	svc := &stubInvoiceService{createFn: func(context.Context, CreateInvoiceCommand) (InvoiceResult, error) {
		return InvoiceResult{}, ErrInvoiceOrderNotFound
	}}
	handler := NewInvoiceJobHandler(svc, nil)

	err := handler(context.Background(), invoiceJob("ord_1"))
	if !errors.Is(err, queue.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestInvoiceJobHandlerRetriesOnNotEligible(t *testing.T) {
	svc := &stubInvoiceService{createFn: func(context.Context, CreateInvoiceCommand) (InvoiceResult, error) {
		return InvoiceResult{}, ErrInvoiceNotEligible
	}}
	handler := NewInvoiceJobHandler(svc, nil)

	err := handler(context.Background(), invoiceJob("ord_1"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, queue.ErrTerminal) {
		t.Fatalf("not eligible must stay retryable, got terminal: %v", err)
	}
}

func TestInvoiceJobHandlerDerivesOrderFromJobID(t *testing.T) {
	var gotOrder string
	svc := &stubInvoiceService{createFn: func(_ context.Context, cmd CreateInvoiceCommand) (InvoiceResult, error) {
		gotOrder = cmd.OrderID
		return InvoiceResult{Outcome: InvoiceOutcomeCreated}, nil
	}}
	handler := NewInvoiceJobHandler(svc, nil)

	job := invoiceJob("ord_9")
	job.Payload.OrderID = ""
	if err := handler(context.Background(), job); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotOrder != "ord_9" {
		t.Fatalf("expected derived order ord_9, got %s", gotOrder)
	}
}

func TestInvoiceJobHandlerTerminalWithoutAnyOrderID(t *testing.T) {
	handler := NewInvoiceJobHandler(&stubInvoiceService{}, nil)

	job := queue.Job{ID: "create-invoice:", Kind: JobKindCreateInvoice}
	err := handler(context.Background(), job)
	if !errors.Is(err, queue.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}
