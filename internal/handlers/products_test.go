package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

type stubInventoryService struct {
	restockFn func(context.Context, services.RestockCommand) (services.StockChange, error)
	ledgerFn  func(context.Context, string, services.Pagination) (domain.CursorPage[services.StockLedgerEntry], error)
}

func (s *stubInventoryService) ApplyDelta(context.Context, services.StockDeltaCommand) (services.StockChange, error) {
	return services.StockChange{}, errors.New("not implemented")
}

func (s *stubInventoryService) ApplyOrderLines(context.Context, services.OrderLinesCommand) (services.StockChanges, error) {
	return nil, errors.New("not implemented")
}

func (s *stubInventoryService) Restock(ctx context.Context, cmd services.RestockCommand) (services.StockChange, error) {
	if s.restockFn != nil {
		return s.restockFn(ctx, cmd)
	}
	return services.StockChange{}, errors.New("not implemented")
}

func (s *stubInventoryService) ListLedger(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.StockLedgerEntry], error) {
	if s.ledgerFn != nil {
		return s.ledgerFn(ctx, productID, pager)
	}
	return domain.CursorPage[services.StockLedgerEntry]{}, nil
}

func newProductRouter(svc services.InventoryService) http.Handler {
	router := chi.NewRouter()
	router.Route("/products", NewProductHandlers(nil, svc).Routes)
	return router
}

func TestProductHandlersListLedger(t *testing.T) {
	orderID := "ord_1"
	var gotProduct string
	var gotPager services.Pagination
	svc := &stubInventoryService{
		ledgerFn: func(_ context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.StockLedgerEntry], error) {
			gotProduct = productID
			gotPager = pager
			return domain.CursorPage[services.StockLedgerEntry]{
				Items: []services.StockLedgerEntry{{
					ID:              "stl_1",
					ProductID:       productID,
					PreviousStock:   1,
					NewStock:        0,
					Change:          -1,
					RequestedChange: -3,
					Reason:          "order_created",
					OrderID:         &orderID,
					CreatedAt:       testOrderTime,
				}},
				NextPageToken: "more",
			}, nil
		},
	}

	rr := serveAs(newProductRouter(svc), staffIdentity(), http.MethodGet, "/products/beer/stock-ledger?pageSize=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotProduct != "beer" || gotPager.PageSize != 10 {
		t.Fatalf("unexpected query product=%q pager=%+v", gotProduct, gotPager)
	}

	body := decodeBody(t, rr)
	if body["next_page_token"] != "more" {
		t.Fatalf("expected next page token, got %v", body["next_page_token"])
	}
	entry := body["items"].([]any)[0].(map[string]any)
	if entry["clamped"] != true || entry["change"] != float64(-1) || entry["requested_change"] != float64(-3) {
		t.Fatalf("expected clamped entry, got %v", entry)
	}
	if entry["order_id"] != "ord_1" {
		t.Fatalf("expected order id, got %v", entry["order_id"])
	}
}

func TestProductHandlersLedgerRequiresStaff(t *testing.T) {
	rr := serveAs(newProductRouter(&stubInventoryService{}), customerIdentity("customer-1"), http.MethodGet, "/products/beer/stock-ledger", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestProductHandlersRestock(t *testing.T) {
	var captured services.RestockCommand
	svc := &stubInventoryService{
		restockFn: func(_ context.Context, cmd services.RestockCommand) (services.StockChange, error) {
			captured = cmd
			return services.StockChange{
				ProductID: cmd.ProductID,
				Previous:  2,
				Current:   14,
				Requested: cmd.Quantity,
				Applied:   cmd.Quantity,
				Entry: services.StockLedgerEntry{
					ID:              "stl_2",
					ProductID:       cmd.ProductID,
					PreviousStock:   2,
					NewStock:        14,
					Change:          12,
					RequestedChange: 12,
					Reason:          cmd.Reason,
					CreatedAt:       testOrderTime,
				},
			}, nil
		},
	}
	router := newProductRouter(svc)

	rr := serveAs(router, staffIdentity(), http.MethodPost, "/products/beer:restock", `{"quantity":12}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be denied restock, got %d", rr.Code)
	}

	rr = serveAs(router, adminIdentity(), http.MethodPost, "/products/beer:restock", `{"quantity":12,"reason":"supplier delivery"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "beer" || captured.Quantity != 12 || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	body := decodeBody(t, rr)
	if body["previous_stock"] != float64(2) || body["new_stock"] != float64(14) {
		t.Fatalf("unexpected response %v", body)
	}
	if _, ok := body["entry"].(map[string]any)["clamped"]; ok {
		t.Fatalf("unclamped entry should omit clamped flag: %v", body["entry"])
	}
}

func TestProductHandlersInventoryErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid", err: services.ErrInventoryInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing", err: services.ErrInventoryProductNotFound, status: http.StatusNotFound, code: "product_not_found"},
		{name: "store", err: services.ErrInventoryStoreFailure, status: http.StatusServiceUnavailable, code: "inventory_store_unavailable"},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, code: "inventory_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubInventoryService{
				restockFn: func(context.Context, services.RestockCommand) (services.StockChange, error) {
					return services.StockChange{}, tc.err
				},
			}
			rr := serveAs(newProductRouter(svc), adminIdentity(), http.MethodPost, "/products/beer:restock", `{"quantity":0}`)
			assertErrorCode(t, rr, tc.status, tc.code)
		})
	}
}
