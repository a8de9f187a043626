package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/atelierbleu/api/internal/domain"
	pfirestore "github.com/atelierbleu/api/internal/platform/firestore"
	"github.com/atelierbleu/api/internal/repositories"
)

const invoicesCollection = "invoices"

type invoiceLineDocument struct {
	ProductRef string  `firestore:"productRef"`
	Name       string  `firestore:"name"`
	UnitPrice  float64 `firestore:"unitPrice"`
	Discount   float64 `firestore:"discount"`
	Quantity   int     `firestore:"quantity"`
	TVARate    float64 `firestore:"tvaRate"`
	TotalHT    float64 `firestore:"totalHt"`
	TVAAmount  float64 `firestore:"tvaAmount"`
}

type invoiceDocument struct {
	InvoiceID     string                `firestore:"invoiceId"`
	OrderRef      string                `firestore:"orderRef"`
	OrderNumber   string                `firestore:"orderNumber,omitempty"`
	UserID        string                `firestore:"userId,omitempty"`
	Reference     string                `firestore:"reference"`
	Status        string                `firestore:"status"`
	Lines         []invoiceLineDocument `firestore:"lines"`
	SubtotalHT    float64               `firestore:"subtotalHt"`
	TVATotal      float64               `firestore:"tvaTotal"`
	ShippingCost  float64               `firestore:"shippingCost"`
	GrandTotalTTC float64               `firestore:"grandTotalTtc"`
	IssuedAt      time.Time             `firestore:"issuedAt"`
	PaidAt        *time.Time            `firestore:"paidAt,omitempty"`
	CancelledAt   *time.Time            `firestore:"cancelledAt,omitempty"`
}

func toInvoiceDocument(invoice domain.Invoice) invoiceDocument {
	lines := make([]invoiceLineDocument, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lines = append(lines, invoiceLineDocument(line))
	}
	return invoiceDocument{
		InvoiceID:     invoice.ID,
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
		IssuedAt:      invoice.IssuedAt.UTC(),
		PaidAt:        invoice.PaidAt,
		CancelledAt:   invoice.CancelledAt,
	}
}

func (d invoiceDocument) toInvoice() domain.Invoice {
	lines := make([]domain.InvoiceLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.InvoiceLine(line))
	}
	return domain.Invoice{
		ID:            d.InvoiceID,
		OrderRef:      d.OrderRef,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Reference:     d.Reference,
		Status:        domain.InvoiceStatus(d.Status),
		Lines:         lines,
		SubtotalHT:    d.SubtotalHT,
		TVATotal:      d.TVATotal,
		ShippingCost:  d.ShippingCost,
		GrandTotalTTC: d.GrandTotalTTC,
		IssuedAt:      d.IssuedAt,
		PaidAt:        d.PaidAt,
		CancelledAt:   d.CancelledAt,
	}
}

// InvoiceRepository implements repositories.InvoiceRepository backed by
// Firestore. Documents are keyed by the source order ID, so the store itself
// guarantees at most one invoice per order: a concurrent duplicate insert
// fails with AlreadyExists, which surfaces as a conflict RepositoryError.
type InvoiceRepository struct {
	invoices *pfirestore.BaseRepository[invoiceDocument]
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		invoices: pfirestore.NewBaseRepository[invoiceDocument](provider, invoicesCollection, nil, nil),
	}, nil
}

// Insert creates the invoice document under its order's key.
func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.Invoice) error {
	if invoice.OrderRef == "" {
		return errors.New("invoices: order ref is required")
	}
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.invoices.DocumentRef(ctx, invoice.OrderRef)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("invoices.insert", tx.Create(ref, toInvoiceDocument(invoice)))
	}
	_, err := r.invoices.Create(ctx, invoice.OrderRef, toInvoiceDocument(invoice))
	return err
}

// FindByOrder loads the invoice materialized for the given order, if any.
func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	doc, err := r.invoices.Get(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return doc.Data.toInvoice(), nil
}

// FindByID locates an invoice by its own identifier.
func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	docs, err := r.invoices.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("invoiceId", "==", invoiceID).Limit(1)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(docs) == 0 {
		return domain.Invoice{}, notFoundError("invoices.findbyid", invoiceID)
	}
	return docs[0].Data.toInvoice(), nil
}

// UpdateStatus flips the invoice between paid and cancelled, stamping the
// matching timestamp atomically with the status.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus, at time.Time) (domain.Invoice, error) {
	invoice, err := r.FindByID(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	at = at.UTC()
	updates := []firestore.Update{
		{Path: "status", Value: string(status)},
	}
	switch status {
	case domain.InvoiceStatusPaid:
		updates = append(updates,
			firestore.Update{Path: "paidAt", Value: at},
			firestore.Update{Path: "cancelledAt", Value: firestore.Delete},
		)
		invoice.PaidAt = &at
		invoice.CancelledAt = nil
	case domain.InvoiceStatusCancelled:
		updates = append(updates,
			firestore.Update{Path: "cancelledAt", Value: at},
		)
		invoice.CancelledAt = &at
	}

	if _, err := r.invoices.Update(ctx, invoice.OrderRef, updates); err != nil {
		return domain.Invoice{}, err
	}
	invoice.Status = status
	return invoice, nil
}

// List returns a page of invoices, newest first.
func (r *InvoiceRepository) List(ctx context.Context, filter repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	pageSize := filter.Page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	docs, err := r.invoices.Query(ctx, func(query firestore.Query) firestore.Query {
		if len(filter.Statuses) > 0 {
			values := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				values = append(values, string(s))
			}
			query = query.Where("status", "in", values)
		}
		if filter.UserID != "" {
			query = query.Where("userId", "==", filter.UserID)
		}
		query = query.OrderBy("issuedAt", firestore.Desc)
		if token := filter.Page.PageToken; token != "" {
			if ts, err := time.Parse(time.RFC3339Nano, token); err == nil {
				query = query.StartAfter(ts)
			}
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, err
	}

	page := domain.CursorPage[domain.Invoice]{}
	for i, doc := range docs {
		if i == pageSize {
			page.NextPageToken = docs[pageSize-1].Data.IssuedAt.Format(time.RFC3339Nano)
			break
		}
		page.Items = append(page.Items, doc.Data.toInvoice())
	}
	return page, nil
}
