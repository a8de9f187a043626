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

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn        func(context.Context, string) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func newOrderRouter(svc services.OrderService) http.Handler {
	return NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))
}

func sampleOrder() services.Order {
	created := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "AB-2025-000001",
		UserID:      "usr_1",
		Status:      domain.OrderStatusProcessing,
		Items: []services.OrderLineItem{
			{ProductRef: "prd_tea", Name: "Sencha tin", UnitPrice: 24, Quantity: 2, TVARate: 20},
		},
		Delivery:  services.OrderDelivery{Method: "colissimo", Cost: "6.90"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	router := newOrderRouter(svc)

	body := `{
		"user_id": "usr_1",
		"items": [{"product_ref": "prd_tea", "name": "Sencha tin", "unit_price": 24, "quantity": 2, "tva_rate": 20}],
		"delivery": {"method": "colissimo", "cost": "6.90"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_1" {
		t.Fatalf("expected user usr_1, got %s", captured.UserID)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %#v", captured.Items)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.OrderNumber != "AB-2025-000001" {
		t.Fatalf("expected order number in response, got %s", resp.Order.OrderNumber)
	}
}

func TestListOrdersRejectsUnknownStatusFilter(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?status=teleported", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListOrdersPassesFilters(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		captured = filter
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "tok"}, nil
	}}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?status=delivered,shipped&user_id=usr_1&page_size=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Statuses) != 2 {
		t.Fatalf("expected two status filters, got %v", captured.Statuses)
	}
	if captured.UserID != "usr_1" {
		t.Fatalf("expected user filter, got %q", captured.UserID)
	}
	if captured.Page.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Page.PageSize)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.NextPageToken != "tok" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}
}

func TestGetOrderMapsNotFound(t *testing.T) {
	svc := &stubOrderService{getFn: func(context.Context, string) (services.Order, error) {
		return services.Order{}, fmt.Errorf("%w: gone", services.ErrOrderNotFound)
	}}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	svc := &stubOrderService{transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
		captured = cmd
		order := sampleOrder()
		order.Status = domain.OrderStatusDelivered
		return order, nil
	}}
	router := newOrderRouter(svc)

	body := `{"status": "Delivered", "expected_status": "shipped", "reason": "left at door"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:status", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" {
		t.Fatalf("expected order ord_1, got %s", captured.OrderID)
	}
	if captured.TargetStatus != "delivered" {
		t.Fatalf("expected lowercased target, got %q", captured.TargetStatus)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != "shipped" {
		t.Fatalf("expected expected_status shipped, got %v", captured.ExpectedStatus)
	}
	if captured.Reason != "left at door" {
		t.Fatalf("expected reason, got %q", captured.Reason)
	}
}

func TestUpdateOrderStatusConflict(t *testing.T) {
	svc := &stubOrderService{transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
		return services.Order{}, fmt.Errorf("%w: expected shipped", services.ErrOrderConflict)
	}}
	router := newOrderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:status", strings.NewReader(`{"status":"cancelled"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
