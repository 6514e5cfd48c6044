package memory

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

type productRepository struct {
	store *Store
}

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	product, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewError("products.find", repositories.ErrorKindNotFound, "product "+productID+" not found", nil)
	}
	return product, nil
}

// ApplyStockDelta reads and writes under the store mutex, so concurrent deltas never interleave.
func (r productRepository) ApplyStockDelta(ctx context.Context, productID string, delta int) (repositories.StockDeltaResult, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	product, ok := r.store.data.products[productID]
	if !ok {
		return repositories.StockDeltaResult{}, repositories.NewError("products.apply_stock_delta", repositories.ErrorKindNotFound, "product "+productID+" not found", nil)
	}
	previous := product.Stock
	product.Stock = max(0, previous+delta)
	r.store.data.products[productID] = product
	return repositories.StockDeltaResult{Previous: previous, Current: product.Stock}, nil
}

type ledgerRepository struct {
	store *Store
}

func (r ledgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if strings.TrimSpace(entry.ID) == "" {
		return repositories.NewError("stock_ledger.append", repositories.ErrorKindInvalidInput, "entry id is required", nil)
	}
	if _, ok := r.store.data.products[entry.ProductID]; !ok {
		return repositories.NewError("stock_ledger.append", repositories.ErrorKindInvalidReference, "product "+entry.ProductID+" does not exist", nil)
	}
	r.store.data.ledger = append(r.store.data.ledger, entry)
	return nil
}

// ListByProduct returns entries newest first. Page tokens carry the number of entries already seen.
func (r ledgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	offset := 0
	if pager.PageToken != "" {
		decoded, err := pagination.DecodeOffset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, repositories.NewError("stock_ledger.list", repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		offset = decoded
	}
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	var matches []domain.StockLedgerEntry
	for i := len(r.store.data.ledger) - 1; i >= 0; i-- {
		if entry := r.store.data.ledger[i]; entry.ProductID == productID {
			matches = append(matches, entry)
		}
	}

	if offset > len(matches) {
		offset = len(matches)
	}
	end := min(offset+size, len(matches))
	page := domain.CursorPage[domain.StockLedgerEntry]{Items: matches[offset:end]}
	if end < len(matches) {
		token, err := pagination.EncodeOffset(end)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("stock_ledger.list: %w", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

type courierRepository struct {
	store *Store
}

func (r courierRepository) FindByID(ctx context.Context, courierID string) (domain.Courier, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	courier, ok := r.store.data.couriers[courierID]
	if !ok {
		return domain.Courier{}, repositories.NewError("couriers.find", repositories.ErrorKindNotFound, "courier "+courierID+" not found", nil)
	}
	return courier, nil
}

type counterRepository struct {
	store *Store
}

func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	counter := r.store.data.counters[id]
	increment := step
	if increment <= 0 {
		increment = max(counter.step, 1)
	}
	next := counter.value + increment
	if counter.max != nil && next > *counter.max {
		return 0, repositories.NewError("counters.next", repositories.ErrorKindExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *counter.max), nil)
	}
	counter.value = next
	counter.step = increment
	r.store.data.counters[id] = counter
	return next, nil
}

func (r counterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewError("counters.configure", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	}
	counter := r.store.data.counters[id]
	if cfg.Step > 0 {
		counter.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		maxValue := *cfg.MaxValue
		counter.max = &maxValue
	}
	if cfg.InitialValue != nil {
		counter.value = *cfg.InitialValue
	}
	r.store.data.counters[id] = counter
	return nil
}
