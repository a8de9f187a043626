package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/atelierbleu/api/internal/domain"
	"github.com/atelierbleu/api/internal/repositories"
)

const (
	invoiceEventCreated       = "invoice.created"
	invoiceEventStatusChanged = "invoice.status.changed"

	invoiceIDPrefix = "inv_"
)

var (
	// ErrInvoiceInvalidInput signals the caller provided invalid data.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceNotFound indicates the invoice could not be located.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceOrderNotFound indicates the source order no longer exists.
	ErrInvoiceOrderNotFound = errors.New("invoice: order not found")
	// ErrInvoiceNotEligible indicates the order is not in a billable state.
	ErrInvoiceNotEligible = errors.New("invoice: order not eligible")
	// ErrInvoiceInvalidState indicates an invalid status change was attempted.
	ErrInvoiceInvalidState = errors.New("invoice: invalid status transition")
)

// InvoiceEventPublisher publishes invoice domain events for downstream consumers.
type InvoiceEventPublisher interface {
	PublishInvoiceEvent(ctx context.Context, event InvoiceEvent) error
}

// InvoiceEvent captures metadata for emitted invoice domain events.
type InvoiceEvent struct {
	Type       string
	InvoiceID  string
	OrderID    string
	Reference  string
	Status     string
	ActorID    string
	OccurredAt time.Time
	Metadata   map[string]any
}

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Invoices    repositories.InvoiceRepository
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      InvoiceEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	invoices   repositories.InvoiceRepository
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     InvoiceEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewInvoiceService wires dependencies into a concrete InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("invoice service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("invoice service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &invoiceService{
		invoices:   deps.Invoices,
		orders:     deps.Orders,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *invoiceService) CreateFromOrder(ctx context.Context, cmd CreateInvoiceCommand) (InvoiceResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return InvoiceResult{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return InvoiceResult{}, fmt.Errorf("%w: %s", ErrInvoiceOrderNotFound, orderID)
		}
		return InvoiceResult{}, err
	}

	if order.Invoiced {
		return s.alreadyInvoiced(ctx, orderID)
	}
	if order.Status != domain.OrderStatusDelivered {
		return InvoiceResult{}, fmt.Errorf("%w: order %s is %q", ErrInvoiceNotEligible, orderID, order.Status)
	}

	now := s.now()
	reference, err := s.generateReference(ctx, now)
	if err != nil {
		return InvoiceResult{}, err
	}

	invoice := buildInvoiceSnapshot(order, now)
	invoice.ID = invoiceIDPrefix + s.newID()
	invoice.Reference = reference

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoices.Insert(txCtx, invoice); err != nil {
			return err
		}
		return s.orders.MarkInvoiced(txCtx, order.ID, now)
	})
	if err != nil {
		// Another worker won the race; the stored invoice is the truth.
		if isConflict(err) {
			s.logger(ctx, "invoice.create.duplicate", map[string]any{
				"order": orderID,
			})
			return s.alreadyInvoiced(ctx, orderID)
		}
		return InvoiceResult{}, err
	}

	s.publishEvent(ctx, InvoiceEvent{
		Type:       invoiceEventCreated,
		InvoiceID:  invoice.ID,
		OrderID:    order.ID,
		Reference:  invoice.Reference,
		Status:     string(invoice.Status),
		ActorID:    cmd.ActorID,
		OccurredAt: now,
		Metadata: map[string]any{
			"orderNumber": order.OrderNumber,
			"grandTotal":  invoice.GrandTotalTTC,
		},
	})

	return InvoiceResult{Outcome: InvoiceOutcomeCreated, Invoice: invoice}, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if isNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return Invoice{}, err
	}
	return invoice, nil
}

func (s *invoiceService) GetInvoiceForOrder(ctx context.Context, orderID string) (Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Invoice{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByOrder(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: no invoice for order %s", ErrInvoiceNotFound, orderID)
		}
		return Invoice{}, err
	}
	return invoice, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[Invoice], error) {
	return s.invoices.List(ctx, filter)
}

func (s *invoiceService) UpdateStatus(ctx context.Context, cmd InvoiceStatusCommand) (Invoice, error) {
	invoiceID := strings.TrimSpace(cmd.InvoiceID)
	if invoiceID == "" {
		return Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}
	target := domain.InvoiceStatus(strings.TrimSpace(cmd.TargetStatus))
	if target != domain.InvoiceStatusPaid && target != domain.InvoiceStatusCancelled {
		return Invoice{}, fmt.Errorf("%w: unknown status %q", ErrInvoiceInvalidState, cmd.TargetStatus)
	}

	now := s.now()
	invoice, err := s.invoices.UpdateStatus(ctx, invoiceID, target, now)
	if err != nil {
		if isNotFound(err) {
			return Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return Invoice{}, err
	}

	s.publishEvent(ctx, InvoiceEvent{
		Type:       invoiceEventStatusChanged,
		InvoiceID:  invoice.ID,
		OrderID:    invoice.OrderRef,
		Reference:  invoice.Reference,
		Status:     string(invoice.Status),
		ActorID:    cmd.ActorID,
		OccurredAt: now,
	})

	return invoice, nil
}

func (s *invoiceService) alreadyInvoiced(ctx context.Context, orderID string) (InvoiceResult, error) {
	invoice, err := s.invoices.FindByOrder(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			// Flag set but no invoice stored. Report the outcome anyway so
			// the caller stops retrying; the flag is authoritative.
			return InvoiceResult{Outcome: InvoiceOutcomeAlreadyInvoiced}, nil
		}
		return InvoiceResult{}, err
	}
	return InvoiceResult{Outcome: InvoiceOutcomeAlreadyInvoiced, Invoice: invoice}, nil
}

func (s *invoiceService) generateReference(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "invoices", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%04d-%06d", now.Year(), seq), nil
}

func (s *invoiceService) now() time.Time {
	return s.clock()
}

func (s *invoiceService) publishEvent(ctx context.Context, event InvoiceEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishInvoiceEvent(ctx, event); err != nil {
		s.logger(ctx, "invoice.event.publish.failed", map[string]any{
			"type":    event.Type,
			"invoice": event.InvoiceID,
			"order":   event.OrderID,
			"error":   err.Error(),
		})
	}
}

// buildInvoiceSnapshot freezes the order's financial state into invoice
// lines. Line totals are computed from the unit price net of discount,
// clamped at zero, and VAT is derived per line from its rate.
func buildInvoiceSnapshot(order Order, issuedAt time.Time) Invoice {
	lines := make([]InvoiceLine, 0, len(order.Items))
	var subtotal, vatTotal float64

	for _, item := range order.Items {
		unitNet := item.UnitPrice - item.Discount
		if unitNet < 0 {
			unitNet = 0
		}
		lineHT := unitNet * float64(item.Quantity)
		vat := lineHT * (item.TVARate / 100)

		lines = append(lines, InvoiceLine{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Discount:   item.Discount,
			Quantity:   item.Quantity,
			TVARate:    item.TVARate,
			TotalHT:    lineHT,
			TVAAmount:  vat,
		})
		subtotal += lineHT
		vatTotal += vat
	}

	shipping := parseShippingCost(order.Delivery.Cost)

	return Invoice{
		OrderRef:      order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        domain.InvoiceStatusPaid,
		Lines:         lines,
		SubtotalHT:    subtotal,
		TVATotal:      vatTotal,
		ShippingCost:  shipping,
		GrandTotalTTC: subtotal + vatTotal + shipping,
		IssuedAt:      issuedAt,
		PaidAt:        &issuedAt,
	}
}

// parseShippingCost tolerates the free-form cost strings carried on orders.
// Anything that does not parse to a finite non-negative number counts as zero.
func parseShippingCost(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	trimmed = strings.ReplaceAll(trimmed, ",", ".")
	cost, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return 0
	}
	return cost
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
