package repositories

import (
	"context"
	"time"

	domain "github.com/atelierbleu/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations into one transactional boundary.
// Mutations issued through repositories inside fn commit together or not at
// all.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order list queries.
type OrderListFilter struct {
	Statuses  []domain.OrderStatus
	UserID    string
	CreatedAt domain.RangeQuery[time.Time]
	Page      domain.Pagination
}

// OrderRepository persists order records.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// MarkInvoiced sets the invoiced flag without touching other fields, so
	// it can ride inside the invoice creation transaction.
	MarkInvoiced(ctx context.Context, orderID string, at time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// InvoiceListFilter narrows invoice list queries.
type InvoiceListFilter struct {
	Statuses []domain.InvoiceStatus
	UserID   string
	Page     domain.Pagination
}

// InvoiceRepository persists invoice documents. The store enforces at most
// one invoice per order; Insert surfaces a conflict RepositoryError when an
// invoice for the same order already exists.
type InvoiceRepository interface {
	Insert(ctx context.Context, invoice domain.Invoice) error
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
	FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error)
	UpdateStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus, at time.Time) (domain.Invoice, error)
	List(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[domain.Invoice], error)
}

// CounterRepository produces monotonic sequences for human-readable
// references such as order numbers and invoice references.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
