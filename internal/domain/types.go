package domain

import "time"

// Pagination describes cursor-style pagination inputs shared by list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results alongside the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery describes inclusive range filters for list endpoints.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusProcessing indicates the order has been accepted and is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled indicates the order has been cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order has been refunded after payment.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusDelivered indicates the order reached the customer. Delivery is
	// the trigger for deferred invoice issuance.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusPickup indicates the order awaits in-store pickup.
	OrderStatusPickup OrderStatus = "pickup"
)

// KnownOrderStatuses lists every status accepted by the admin status update.
var KnownOrderStatuses = []OrderStatus{
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusDelivered,
	OrderStatusPickup,
}

// IsKnownOrderStatus reports whether the status is part of the order lifecycle.
func IsKnownOrderStatus(status OrderStatus) bool {
	for _, s := range KnownOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// OrderLineItem captures one purchased product line at order time.
type OrderLineItem struct {
	ProductRef string
	Name       string
	UnitPrice  float64
	Discount   float64
	Quantity   int
	TVARate    float64
	Metadata   map[string]any
}

// OrderDelivery records the delivery method selected at checkout. Cost is
// carried as free text coming from the catalogue and parsed defensively when
// the invoice snapshot is computed.
type OrderDelivery struct {
	Method string
	Cost   string
}

// Order is the customer purchase record tracked through its lifecycle status.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Items       []OrderLineItem
	Delivery    OrderDelivery
	// Invoiced is true once an invoice has been durably created for this
	// order. Invariant: Invoiced implies exactly one invoice references it.
	Invoiced     bool
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	RefundedAt   *time.Time
	CancelReason *string
}

// InvoiceStatus enumerates invoice lifecycle states. Invoices are only
// materialized for delivered (paid-equivalent) orders, so they start as paid.
type InvoiceStatus string

const (
	// InvoiceStatusPaid is the state invoices are created in.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusCancelled marks an invoice voided by an administrator.
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// InvoiceLine is the immutable snapshot of one order line at issuance time.
type InvoiceLine struct {
	ProductRef string
	Name       string
	UnitPrice  float64
	Discount   float64
	Quantity   int
	TVARate    float64
	TotalHT    float64
	TVAAmount  float64
}

// Invoice is the billing document materialized exactly once per order.
// OrderRef and Reference never change after creation; the financial snapshot
// is copied from the order and never recomputed.
type Invoice struct {
	ID            string
	OrderRef      string
	OrderNumber   string
	UserID        string
	Reference     string
	Status        InvoiceStatus
	Lines         []InvoiceLine
	SubtotalHT    float64
	TVATotal      float64
	ShippingCost  float64
	GrandTotalTTC float64
	IssuedAt      time.Time
	PaidAt        *time.Time
	CancelledAt   *time.Time
}
