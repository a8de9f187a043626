package services

import (
	"context"
	"time"

	domain "github.com/atelierbleu/api/internal/domain"
	"github.com/atelierbleu/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination    = domain.Pagination
	Order         = domain.Order
	OrderLineItem = domain.OrderLineItem
	OrderDelivery = domain.OrderDelivery
	OrderStatus   = domain.OrderStatus
	Invoice       = domain.Invoice
	InvoiceLine   = domain.InvoiceLine
	InvoiceStatus = domain.InvoiceStatus
)

// OrderListFilter mirrors the repository filter for service callers.
type OrderListFilter = repositories.OrderListFilter

// InvoiceListFilter mirrors the repository filter for service callers.
type InvoiceListFilter = repositories.InvoiceListFilter

// CreateOrderCommand captures the input for admin order creation.
type CreateOrderCommand struct {
	UserID   string
	Items    []OrderLineItem
	Delivery OrderDelivery
	Metadata map[string]any
	ActorID  string
}

// OrderStatusTransitionCommand moves an order to a new status.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   string
	ExpectedStatus *string
	Reason         string
	Metadata       map[string]any
	ActorID        string
}

// OrderService exposes order lifecycle operations.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// InvoiceOutcome reports how an invoice creation attempt resolved.
type InvoiceOutcome string

const (
	// InvoiceOutcomeCreated means a fresh invoice was materialised.
	InvoiceOutcomeCreated InvoiceOutcome = "created"
	// InvoiceOutcomeAlreadyInvoiced means the order already carried an invoice.
	InvoiceOutcomeAlreadyInvoiced InvoiceOutcome = "already_invoiced"
)

// CreateInvoiceCommand requests invoice materialisation for an order.
type CreateInvoiceCommand struct {
	OrderID string
	ActorID string
}

// InvoiceResult pairs the outcome with the resulting invoice.
type InvoiceResult struct {
	Outcome InvoiceOutcome
	Invoice Invoice
}

// InvoiceStatusCommand flips an invoice between paid and cancelled.
type InvoiceStatusCommand struct {
	InvoiceID    string
	TargetStatus string
	ActorID      string
}

// InvoiceService materialises and manages invoices.
type InvoiceService interface {
	// CreateFromOrder creates the invoice for a delivered order exactly once.
	// Repeat calls for an already invoiced order report
	// InvoiceOutcomeAlreadyInvoiced instead of failing.
	CreateFromOrder(ctx context.Context, cmd CreateInvoiceCommand) (InvoiceResult, error)
	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	GetInvoiceForOrder(ctx context.Context, orderID string) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[Invoice], error)
	UpdateStatus(ctx context.Context, cmd InvoiceStatusCommand) (Invoice, error)
}

// PendingInvoiceJob describes a scheduled invoice job awaiting execution.
type PendingInvoiceJob struct {
	JobID    string     `json:"jobId"`
	OrderID  string     `json:"orderId"`
	State    string     `json:"state"`
	Attempts int        `json:"attempts"`
	RunAt    *time.Time `json:"runAt,omitempty"`
	ETA      string     `json:"eta,omitempty"`
	MSLeft   int64      `json:"msLeft"`
}

// InvoiceScheduler manages the deferred invoice jobs tied to order status
// changes. Schedule and cancel failures are logged and swallowed so order
// updates never fail because of the queue.
type InvoiceScheduler interface {
	ScheduleInvoice(ctx context.Context, order Order)
	CancelInvoice(ctx context.Context, orderID string)
	PendingJobs(ctx context.Context) ([]PendingInvoiceJob, error)
	CancelJob(ctx context.Context, jobID string) error
}
