package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

type stubOrderService struct {
	createFn    func(context.Context, services.CreateOrderCommand) (services.Order, error)
	changeFn    func(context.Context, services.ChangeStatusCommand) (services.Order, error)
	assignFn    func(context.Context, services.AssignCourierCommand) (services.Order, error)
	feeFn       func(context.Context, services.AdjustDeliveryFeeCommand) (services.Order, error)
	deleteFn    func(context.Context, services.DeleteOrderCommand) error
	getFn       func(context.Context, string) (services.Order, error)
	listFn      func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	listUserFn  func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	reportFn    func(context.Context, string, domain.TimeRange) (services.CourierReport, error)
	changeCalls int
}

var _ services.OrderService = (*stubOrderService)(nil)

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ChangeStatus(ctx context.Context, cmd services.ChangeStatusCommand) (services.Order, error) {
	s.changeCalls++
	if s.changeFn != nil {
		return s.changeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AssignCourier(ctx context.Context, cmd services.AssignCourierCommand) (services.Order, error) {
	if s.assignFn != nil {
		return s.assignFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AdjustDeliveryFee(ctx context.Context, cmd services.AdjustDeliveryFeeCommand) (services.Order, error) {
	if s.feeFn != nil {
		return s.feeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrdersByStatus(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListOrdersByUser(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) CourierReport(ctx context.Context, courierID string, window domain.TimeRange) (services.CourierReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx, courierID, window)
	}
	return services.CourierReport{CourierID: courierID}, nil
}

var testOrderTime = time.Date(2025, time.March, 14, 18, 30, 0, 0, time.UTC)

func newOrderRouter(svc services.OrderService) http.Handler {
	handler := NewOrderHandlers(nil, svc)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	router.Route("/me", handler.MeRoutes)
	router.Route("/couriers", handler.CourierRoutes)
	return router
}

func serveAs(router http.Handler, identity *auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func staffIdentity() *auth.Identity {
	return &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
}

func customerIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}
}

func courierIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleCourier}}
}

func sampleOrder(id string) services.Order {
	return services.Order{
		ID:            id,
		Number:        "00000A",
		Category:      domain.OrderCategoryDelivery,
		Status:        domain.OrderStatusPending,
		UserID:        "customer-1",
		Subtotal:      decimal.RequireFromString("20"),
		Discount:      decimal.Zero,
		DeliveryFee:   decimal.RequireFromString("5.5"),
		Total:         decimal.RequireFromString("25.5"),
		PaymentMethod: domain.PaymentMethodPix,
		Lines: []services.OrderLine{{
			ProductID:   "beer",
			ProductName: "Lager 600ml",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("10"),
			LineTotal:   decimal.RequireFromString("20"),
		}},
		CreatedAt: testOrderTime,
		UpdatedAt: testOrderTime,
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != code {
		t.Fatalf("expected error code %q, got %v", code, got)
	}
}

func TestOrderHandlersCreateOrderForCustomer(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("ord_1")
			order.UserID = cmd.UserID
			return order, nil
		},
	}

	body := `{"items":[{"product_id":" beer ","quantity":2,"unit_price":"10.00"}],"delivery_fee":"5.50","total":"25.50","payment_method":"PIX","address_id":"addr-1"}`
	rr := serveAs(newOrderRouter(svc), customerIdentity("customer-1"), http.MethodPost, "/orders", body)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category != domain.OrderCategoryDelivery {
		t.Fatalf("expected category to default to delivery, got %q", captured.Category)
	}
	if captured.UserID != "customer-1" || captured.ActorID != "customer-1" {
		t.Fatalf("expected order owned and created by caller, got user=%q actor=%q", captured.UserID, captured.ActorID)
	}
	if captured.PaymentMethod != domain.PaymentMethodPix {
		t.Fatalf("expected payment method normalised, got %q", captured.PaymentMethod)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ProductID != "beer" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %+v", captured.Lines)
	}
	if !captured.DeliveryFee.Equal(decimal.RequireFromString("5.5")) || captured.Total == nil || !captured.Total.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected money fields fee=%s total=%v", captured.DeliveryFee, captured.Total)
	}

	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["total"] != "25.50" || order["delivery_fee"] != "5.50" {
		t.Fatalf("expected money formatted with two decimals, got %v", order)
	}
	items := order["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["line_total"] != "20.00" {
		t.Fatalf("unexpected items payload %v", items)
	}
}

func TestOrderHandlersCreateOrderRestrictsCustomers(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatal("service should not be called")
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveAs(router, customerIdentity("customer-1"), http.MethodPost, "/orders", `{"category":"counter","items":[]}`)
	assertErrorCode(t, rr, http.StatusForbidden, "insufficient_role")

	rr = serveAs(router, customerIdentity("customer-1"), http.MethodPost, "/orders", `{"user_id":"customer-2","items":[]}`)
	assertErrorCode(t, rr, http.StatusForbidden, "insufficient_role")
}

func TestOrderHandlersCreateCounterOrderAsStaff(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("ord_2")
			order.Category = domain.OrderCategoryCounter
			order.Status = domain.OrderStatusAccepted
			return order, nil
		},
	}

	rr := serveAs(newOrderRouter(svc), staffIdentity(), http.MethodPost, "/orders",
		`{"category":"counter","user_id":"walk-in","items":[{"product_id":"beer","quantity":1,"unit_price":"10"}],"payment_method":"cash","change_for":"50"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category != domain.OrderCategoryCounter || captured.UserID != "walk-in" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ChangeFor == nil || !captured.ChangeFor.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected change_for forwarded, got %v", captured.ChangeFor)
	}
}

func TestOrderHandlersCreateOrderRejectsBadBodies(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rr := serveAs(router, customerIdentity("customer-1"), http.MethodPost, "/orders", `{"items":`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveAs(router, customerIdentity("customer-1"), http.MethodPost, "/orders", `{"total":"abc"}`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveAs(router, nil, http.MethodPost, "/orders", `{}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersByStatus(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord_1"), sampleOrder("ord_2")},
				NextPageToken: "next",
			}, nil
		},
	}

	rr := serveAs(newOrderRouter(svc), staffIdentity(), http.MethodGet,
		"/orders?status=pending,ready&category=delivery&created_after=2025-03-14T00:00:00Z&pageSize=2", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Statuses) != 2 || captured.Statuses[0] != domain.OrderStatusPending || captured.Statuses[1] != domain.OrderStatusReady {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if captured.Category == nil || *captured.Category != domain.OrderCategoryDelivery {
		t.Fatalf("expected delivery category filter, got %v", captured.Category)
	}
	if captured.CreatedIn.From == nil || !captured.CreatedIn.From.Equal(time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_after %v", captured.CreatedIn.From)
	}
	if captured.Pagination.PageSize != 2 {
		t.Fatalf("expected page size 2, got %d", captured.Pagination.PageSize)
	}

	body := decodeBody(t, rr)
	if body["next_page_token"] != "next" {
		t.Fatalf("expected next_page_token, got %v", body["next_page_token"])
	}
	if items := body["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestOrderHandlersListOrdersValidation(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	rr := serveAs(router, staffIdentity(), http.MethodGet, "/orders?pageSize=-1", "")
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveAs(router, staffIdentity(), http.MethodGet, "/orders?created_before=yesterday", "")
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveAs(router, customerIdentity("customer-1"), http.MethodGet, "/orders", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected customers to be denied the status list, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderVisibility(t *testing.T) {
	courier := "courier-9"
	svc := &stubOrderService{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(id)
			order.CourierID = &courier
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	cases := []struct {
		name     string
		identity *auth.Identity
		want     int
	}{
		{name: "owner", identity: customerIdentity("customer-1"), want: http.StatusOK},
		{name: "staff", identity: staffIdentity(), want: http.StatusOK},
		{name: "assigned courier", identity: courierIdentity(courier), want: http.StatusOK},
		{name: "other customer", identity: customerIdentity("customer-2"), want: http.StatusNotFound},
		{name: "other courier", identity: courierIdentity("courier-1"), want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveAs(router, tc.identity, http.MethodGet, "/orders/ord_1", "")
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name: "transition",
			err: &services.TransitionError{
				Category:  domain.OrderCategoryDelivery,
				Current:   domain.OrderStatusDelivered,
				Requested: domain.OrderStatusCancelled,
			},
			status: http.StatusConflict,
			code:   "order_invalid_transition",
			check: func(t *testing.T, body map[string]any) {
				if body["current_status"] != "delivered" || body["requested_status"] != "cancelled" {
					t.Fatalf("missing transition details: %v", body)
				}
				if allowed, ok := body["allowed_statuses"].([]any); !ok || len(allowed) != 0 {
					t.Fatalf("expected empty allowed statuses, got %v", body["allowed_statuses"])
				}
			},
		},
		{
			name:   "precondition",
			err:    fmt.Errorf("wrap: %w", &services.PreconditionError{Operation: "assign", Required: domain.OrderStatusReady, Current: domain.OrderStatusPending}),
			status: http.StatusConflict,
			code:   "order_invalid_precondition",
			check: func(t *testing.T, body map[string]any) {
				if body["required_status"] != "ready" || body["current_status"] != "pending" {
					t.Fatalf("missing precondition details: %v", body)
				}
			},
		},
		{name: "invalid input", err: fmt.Errorf("%w: quantity must be positive", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "not found", err: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
		{name: "reference", err: services.ErrOrderInvalidReference, status: http.StatusUnprocessableEntity, code: "order_invalid_reference"},
		{
			name:   "store failure",
			err:    fmt.Errorf("%w: connection reset", services.ErrOrderStoreFailure),
			status: http.StatusServiceUnavailable,
			code:   "order_store_unavailable",
			check: func(t *testing.T, body map[string]any) {
				if body["retryable"] != true {
					t.Fatalf("expected retryable flag, got %v", body)
				}
			},
		},
		{name: "timeout", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "request_timeout"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "order_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				changeFn: func(context.Context, services.ChangeStatusCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rr := serveAs(newOrderRouter(svc), staffIdentity(), http.MethodPost, "/orders/ord_1:status", `{"status":"cancelled"}`)
			assertErrorCode(t, rr, tc.status, tc.code)
			if tc.check != nil {
				tc.check(t, decodeBody(t, rr))
			}
		})
	}
}

func TestOrderHandlersChangeStatusAsStaff(t *testing.T) {
	var captured services.ChangeStatusCommand
	svc := &stubOrderService{
		changeFn: func(_ context.Context, cmd services.ChangeStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID)
			order.Status = cmd.Status
			return order, nil
		},
	}

	rr := serveAs(newOrderRouter(svc), staffIdentity(), http.MethodPost, "/orders/ord_1:status", `{"status":" Accepted ","reason":" ok "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Status != domain.OrderStatusAccepted || captured.Reason != "ok" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestOrderHandlersChangeStatusByOwnerAndCourier(t *testing.T) {
	courier := "courier-9"
	current := domain.OrderStatusPending
	newSvc := func() *stubOrderService {
		return &stubOrderService{
			getFn: func(_ context.Context, id string) (services.Order, error) {
				order := sampleOrder(id)
				order.Status = current
				order.CourierID = &courier
				return order, nil
			},
			changeFn: func(_ context.Context, cmd services.ChangeStatusCommand) (services.Order, error) {
				order := sampleOrder(cmd.OrderID)
				order.Status = cmd.Status
				return order, nil
			},
		}
	}

	cases := []struct {
		name     string
		current  domain.OrderStatus
		identity *auth.Identity
		body     string
		want     int
	}{
		{name: "owner cancels pending", current: domain.OrderStatusPending, identity: customerIdentity("customer-1"), body: `{"status":"cancelled"}`, want: http.StatusOK},
		{name: "owner cannot cancel accepted", current: domain.OrderStatusAccepted, identity: customerIdentity("customer-1"), body: `{"status":"cancelled"}`, want: http.StatusForbidden},
		{name: "owner cannot accept", current: domain.OrderStatusPending, identity: customerIdentity("customer-1"), body: `{"status":"accepted"}`, want: http.StatusForbidden},
		{name: "stranger hidden", current: domain.OrderStatusPending, identity: customerIdentity("customer-2"), body: `{"status":"cancelled"}`, want: http.StatusNotFound},
		{name: "courier marks arrived", current: domain.OrderStatusDispatched, identity: courierIdentity(courier), body: `{"status":"arrived"}`, want: http.StatusOK},
		{name: "courier marks delivered", current: domain.OrderStatusArrived, identity: courierIdentity(courier), body: `{"status":"delivered"}`, want: http.StatusOK},
		{name: "courier cannot cancel", current: domain.OrderStatusDispatched, identity: courierIdentity(courier), body: `{"status":"cancelled"}`, want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current = tc.current
			svc := newSvc()
			rr := serveAs(newOrderRouter(svc), tc.identity, http.MethodPost, "/orders/ord_1:status", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want != http.StatusOK && svc.changeCalls != 0 {
				t.Fatalf("expected no status change, got %d calls", svc.changeCalls)
			}
		})
	}
}

func TestOrderHandlersAssignCourier(t *testing.T) {
	var captured services.AssignCourierCommand
	svc := &stubOrderService{
		assignFn: func(_ context.Context, cmd services.AssignCourierCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.OrderID)
			order.Status = domain.OrderStatusDispatched
			order.CourierID = &cmd.CourierID
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveAs(router, staffIdentity(), http.MethodPost, "/orders/ord_1:assign", `{"courier_id":"courier-9"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CourierID != "courier-9" || captured.OrderID != "ord_1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["status"] != "dispatched" || order["courier_id"] != "courier-9" {
		t.Fatalf("unexpected payload %v", order)
	}

	rr = serveAs(router, courierIdentity("courier-9"), http.MethodPost, "/orders/ord_1:assign", `{"courier_id":"courier-9"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected couriers to be denied assignment, got %d", rr.Code)
	}
}

func TestOrderHandlersAdjustDeliveryFee(t *testing.T) {
	var captured services.AdjustDeliveryFeeCommand
	svc := &stubOrderService{
		feeFn: func(_ context.Context, cmd services.AdjustDeliveryFeeCommand) (services.Order, error) {
			captured = cmd
			original := decimal.RequireFromString("5.5")
			adjusted := testOrderTime.Add(time.Minute)
			order := sampleOrder(cmd.OrderID)
			order.OriginalDeliveryFee = &original
			order.DeliveryFee = cmd.DeliveryFee
			order.Total = order.Subtotal.Sub(order.Discount).Add(cmd.DeliveryFee)
			order.DeliveryFeeAdjusted = true
			order.DeliveryFeeAdjustedAt = &adjusted
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveAs(router, staffIdentity(), http.MethodPost, "/orders/ord_1:delivery-fee", `{"delivery_fee":"8"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be denied fee adjustment, got %d", rr.Code)
	}

	rr = serveAs(router, adminIdentity(), http.MethodPost, "/orders/ord_1:delivery-fee", `{}`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = serveAs(router, adminIdentity(), http.MethodPost, "/orders/ord_1:delivery-fee", `{"delivery_fee":"8"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.DeliveryFee.Equal(decimal.NewFromInt(8)) || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["delivery_fee"] != "8.00" || order["original_delivery_fee"] != "5.50" || order["total"] != "28.00" || order["delivery_fee_adjusted"] != true {
		t.Fatalf("unexpected payload %v", order)
	}
}

func TestOrderHandlersDeleteOrder(t *testing.T) {
	var deleted string
	svc := &stubOrderService{
		deleteFn: func(_ context.Context, cmd services.DeleteOrderCommand) error {
			deleted = cmd.OrderID
			return nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveAs(router, staffIdentity(), http.MethodDelete, "/orders/ord_1", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be denied deletion, got %d", rr.Code)
	}

	rr = serveAs(router, adminIdentity(), http.MethodDelete, "/orders/ord_1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if deleted != "ord_1" {
		t.Fatalf("expected ord_1 deleted, got %q", deleted)
	}
}

func TestOrderHandlersListMyOrders(t *testing.T) {
	var gotUser string
	var gotPager services.Pagination
	svc := &stubOrderService{
		listUserFn: func(_ context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
			gotUser = userID
			gotPager = pager
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord_1")}}, nil
		},
	}

	rr := serveAs(newOrderRouter(svc), customerIdentity("customer-1"), http.MethodGet, "/me/orders?pageSize=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotUser != "customer-1" || gotPager.PageSize != 5 {
		t.Fatalf("unexpected query user=%q pager=%+v", gotUser, gotPager)
	}
	items := decodeBody(t, rr)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["number"] != "00000A" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestOrderHandlersCourierReport(t *testing.T) {
	var gotWindow domain.TimeRange
	svc := &stubOrderService{
		reportFn: func(_ context.Context, courierID string, window domain.TimeRange) (services.CourierReport, error) {
			gotWindow = window
			delivered := sampleOrder("ord_1")
			delivered.Status = domain.OrderStatusDelivered
			return services.CourierReport{
				CourierID:      courierID,
				Orders:         []services.Order{delivered},
				DeliveredCount: 1,
				DeliveryFees:   decimal.RequireFromString("5.5"),
			}, nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveAs(router, courierIdentity("courier-9"), http.MethodGet, "/couriers/courier-9/orders?from=2025-03-01T00:00:00Z&to=2025-03-31T23:59:59Z", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotWindow.From == nil || gotWindow.To == nil {
		t.Fatalf("expected both window bounds, got %+v", gotWindow)
	}
	body := decodeBody(t, rr)
	if body["delivered_count"] != float64(1) || body["delivery_fees"] != "5.50" {
		t.Fatalf("unexpected report %v", body)
	}

	rr = serveAs(router, courierIdentity("courier-1"), http.MethodGet, "/couriers/courier-9/orders", "")
	assertErrorCode(t, rr, http.StatusForbidden, "insufficient_role")

	rr = serveAs(router, staffIdentity(), http.MethodGet, "/couriers/courier-9/orders?from=bad", "")
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	rr := serveAs(newOrderRouter(nil), staffIdentity(), http.MethodGet, "/orders/ord_1", "")
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "order_service_unavailable")
}
