package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/atelierbleu/api/internal/domain"
	pfirestore "github.com/atelierbleu/api/internal/platform/firestore"
	"github.com/atelierbleu/api/internal/repositories"
)

const ordersCollection = "orders"

type orderLineDocument struct {
	ProductRef string         `firestore:"productRef"`
	Name       string         `firestore:"name"`
	UnitPrice  float64        `firestore:"unitPrice"`
	Discount   float64        `firestore:"discount"`
	Quantity   int            `firestore:"quantity"`
	TVARate    float64        `firestore:"tvaRate"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	Status         string              `firestore:"status"`
	Items          []orderLineDocument `firestore:"items"`
	DeliveryMethod string              `firestore:"deliveryMethod,omitempty"`
	DeliveryCost   string              `firestore:"deliveryCost,omitempty"`
	Invoiced       bool                `firestore:"invoiced"`
	Metadata       map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	RefundedAt     *time.Time          `firestore:"refundedAt,omitempty"`
	CancelReason   *string             `firestore:"cancelReason,omitempty"`
}

func toOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineDocument(item))
	}
	return orderDocument{
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		Items:          items,
		DeliveryMethod: order.Delivery.Method,
		DeliveryCost:   order.Delivery.Cost,
		Invoiced:       order.Invoiced,
		Metadata:       order.Metadata,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
		RefundedAt:     order.RefundedAt,
		CancelReason:   order.CancelReason,
	}
}

func (d orderDocument) toOrder(id string) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderLineItem(item))
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Status:      domain.OrderStatus(d.Status),
		Items:       items,
		Delivery: domain.OrderDelivery{
			Method: d.DeliveryMethod,
			Cost:   d.DeliveryCost,
		},
		Invoiced:     d.Invoiced,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		DeliveredAt:  d.DeliveredAt,
		CancelledAt:  d.CancelledAt,
		RefundedAt:   d.RefundedAt,
		CancelReason: d.CancelReason,
	}
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates a new order document, failing on duplicate IDs.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.insert", tx.Create(ref, toOrderDocument(order)))
	}
	_, err := r.orders.Create(ctx, order.ID, toOrderDocument(order))
	return err
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.update", tx.Set(ref, toOrderDocument(order)))
	}
	_, err := r.orders.Set(ctx, order.ID, toOrderDocument(order))
	return err
}

// MarkInvoiced flips the invoiced flag in place. Used inside the invoice
// creation transaction so the flag and the invoice document commit together.
func (r *OrderRepository) MarkInvoiced(ctx context.Context, orderID string, at time.Time) error {
	updates := []firestore.Update{
		{Path: "invoiced", Value: true},
		{Path: "updatedAt", Value: at.UTC()},
	}
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.markinvoiced", tx.Update(ref, updates))
	}
	_, err := r.orders.Update(ctx, orderID, updates)
	return err
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("orders: decode %s: %w", orderID, err)
		}
		return doc.toOrder(orderID), nil
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toOrder(doc.ID), nil
}

// List returns a page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	cursorAt, cursorID, err := decodeOrderCursor(filter.Page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
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
		if filter.CreatedAt.From != nil {
			query = query.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
		}
		if filter.CreatedAt.To != nil {
			query = query.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursorAt.IsZero() {
			query = query.StartAfter(cursorAt, cursorID)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeOrderCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, doc.Data.toOrder(doc.ID))
	}
	return page, nil
}

func encodeOrderCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOrderCursor(token string) (time.Time, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orders: invalid page token: %w", err)
	}
	at, id, found := strings.Cut(string(raw), "|")
	if !found {
		return time.Time{}, "", errors.New("orders: invalid page token")
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orders: invalid page token: %w", err)
	}
	return ts, id, nil
}
