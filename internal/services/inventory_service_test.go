package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories/memory"
)

type stubLedgerRepo struct {
	appendFn func(context.Context, domain.StockLedgerEntry) error
	entries  []domain.StockLedgerEntry
}

func (s *stubLedgerRepo) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if s.appendFn != nil {
		if err := s.appendFn(ctx, entry); err != nil {
			return err
		}
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLedgerRepo) ListByProduct(context.Context, string, domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	return domain.CursorPage[domain.StockLedgerEntry]{Items: s.entries}, nil
}

type stubProductRepo struct {
	applyFn func(context.Context, string, int) (repositories.StockDeltaResult, error)
}

func (s *stubProductRepo) FindByID(context.Context, string) (domain.Product, error) {
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) ApplyStockDelta(ctx context.Context, productID string, delta int) (repositories.StockDeltaResult, error) {
	return s.applyFn(ctx, productID, delta)
}

func newInventoryForTest(t *testing.T, store *memory.Store) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products:    store.Products(),
		Ledger:      store.StockLedger(),
		UnitOfWork:  store,
		Clock:       func() time.Time { return time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC) },
		IDGenerator: sequentialIDs("LEDGER"),
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestInventoryApplyDeltaRecordsLedgerEntry(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_beer", Name: "Lager 350ml", Stock: 10, Active: true})
	svc := newInventoryForTest(t, store)

	change, err := svc.ApplyDelta(context.Background(), StockDeltaCommand{
		ProductID: "prod_beer",
		Delta:     -3,
		Reason:    "Order #00000A",
		OrderID:   "ord_1",
	})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if change.Previous != 10 || change.Current != 7 || change.Applied != -3 || change.Clamped() {
		t.Fatalf("unexpected change %+v", change)
	}
	if change.Entry.ID != "stl_LEDGER-1" {
		t.Fatalf("expected ledger id stl_LEDGER-1, got %s", change.Entry.ID)
	}

	page, err := svc.ListLedger(context.Background(), "prod_beer", domain.Pagination{})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(page.Items))
	}
	entry := page.Items[0]
	if entry.PreviousStock != 10 || entry.NewStock != 7 || entry.Change != -3 || entry.Reason != "Order #00000A" {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
	if entry.OrderID == nil || *entry.OrderID != "ord_1" {
		t.Fatalf("expected ledger entry to reference ord_1")
	}
}

func TestInventoryApplyDeltaClampsAtZero(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_ice", Name: "Ice 5kg", Stock: 2, Active: true})
	svc := newInventoryForTest(t, store)

	change, err := svc.ApplyDelta(context.Background(), StockDeltaCommand{ProductID: "prod_ice", Delta: -5, Reason: "Order #00000B"})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if change.Current != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", change.Current)
	}
	if change.Applied != -2 || change.Requested != -5 || !change.Clamped() {
		t.Fatalf("expected applied -2 of requested -5, got %+v", change)
	}
	if change.Entry.Change != -2 || change.Entry.RequestedChange != -5 || !change.Entry.Clamped() {
		t.Fatalf("ledger entry must record applied and requested change, got %+v", change.Entry)
	}
}

func TestInventoryApplyDeltaUnknownProduct(t *testing.T) {
	store := memory.NewStore()
	svc := newInventoryForTest(t, store)

	_, err := svc.ApplyDelta(context.Background(), StockDeltaCommand{ProductID: "prod_missing", Delta: -1, Reason: "Order #1"})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected ErrInventoryProductNotFound, got %v", err)
	}
}

func TestInventoryApplyDeltaValidatesInput(t *testing.T) {
	svc := newInventoryForTest(t, memory.NewStore())
	cases := []StockDeltaCommand{
		{ProductID: "", Delta: 1, Reason: "x"},
		{ProductID: "prod", Delta: 0, Reason: "x"},
		{ProductID: "prod", Delta: 1, Reason: "   "},
	}
	for _, cmd := range cases {
		if _, err := svc.ApplyDelta(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", cmd, err)
		}
	}
}

func TestInventoryApplyDeltaMapsLedgerFailure(t *testing.T) {
	products := &stubProductRepo{applyFn: func(context.Context, string, int) (repositories.StockDeltaResult, error) {
		return repositories.StockDeltaResult{Previous: 4, Current: 3}, nil
	}}
	ledger := &stubLedgerRepo{appendFn: func(context.Context, domain.StockLedgerEntry) error {
		return repositories.NewError("stock_ledger.append", repositories.ErrorKindUnavailable, "", errors.New("connection reset"))
	}}
	svc, err := NewInventoryService(InventoryServiceDeps{Products: products, Ledger: ledger})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	_, err = svc.ApplyDelta(context.Background(), StockDeltaCommand{ProductID: "prod", Delta: -1, Reason: "Order #1"})
	if !errors.Is(err, ErrInventoryStoreFailure) {
		t.Fatalf("expected ErrInventoryStoreFailure, got %v", err)
	}
}

func TestInventoryApplyOrderLines(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_gin", Name: "Gin 750ml", Stock: 4, Active: true})
	store.PutProduct(domain.Product{ID: "prod_ice", Name: "Ice 5kg", Stock: 1, Active: true})
	svc := newInventoryForTest(t, store)
	lines := []OrderLine{
		{ProductID: "prod_gin", Quantity: 2},
		{ProductID: "prod_ice", Quantity: 3},
	}

	out, err := svc.ApplyOrderLines(context.Background(), OrderLinesCommand{
		OrderID: "ord_7", Lines: lines, Direction: StockOut, Reason: "Order #000007", ActorID: "customer-1",
	})
	if err != nil {
		t.Fatalf("apply order lines: %v", err)
	}
	if len(out) != 2 || out[0].Applied != -2 || out[1].Applied != -1 || !out.Clamped() {
		t.Fatalf("unexpected changes %+v", out)
	}
	for _, change := range out {
		if change.Entry.Reason != "Order #000007" || change.Entry.OrderID == nil || *change.Entry.OrderID != "ord_7" {
			t.Fatalf("ledger entry must carry the order reason and id, got %+v", change.Entry)
		}
	}

	back, err := svc.ApplyOrderLines(context.Background(), OrderLinesCommand{
		OrderID: "ord_7", Lines: lines, Direction: StockIn, Reason: "Cancellation of order #000007",
	})
	if err != nil {
		t.Fatalf("restore order lines: %v", err)
	}
	if back.Clamped() || back[0].Current != 4 || back[1].Current != 3 {
		t.Fatalf("unexpected restore %+v", back)
	}
}

func TestInventoryApplyOrderLinesValidatesInput(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_gin", Name: "Gin 750ml", Stock: 4, Active: true})
	svc := newInventoryForTest(t, store)

	cases := map[string]OrderLinesCommand{
		"no direction":  {Lines: []OrderLine{{ProductID: "prod_gin", Quantity: 1}}, Reason: "Order #1"},
		"zero quantity": {Lines: []OrderLine{{ProductID: "prod_gin"}}, Direction: StockOut, Reason: "Order #1"},
	}
	for name, cmd := range cases {
		if _, err := svc.ApplyOrderLines(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestInventoryRestockRunsInOwnTransaction(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_soda", Name: "Cola 2L", Stock: 0, Active: true})
	svc := newInventoryForTest(t, store)

	change, err := svc.Restock(context.Background(), RestockCommand{ProductID: "prod_soda", Quantity: 24, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if change.Current != 24 {
		t.Fatalf("expected stock 24, got %d", change.Current)
	}
	if change.Entry.Reason != defaultRestockNote {
		t.Fatalf("expected default reason, got %q", change.Entry.Reason)
	}
	if change.Entry.ActorID == nil || *change.Entry.ActorID != "admin-1" {
		t.Fatalf("expected actor on ledger entry")
	}

	if _, err := svc.Restock(context.Background(), RestockCommand{ProductID: "prod_soda", Quantity: 0}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}
