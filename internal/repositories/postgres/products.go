package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

// ProductRepository reads products and applies clamped stock updates.
type ProductRepository struct {
	store *Store
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, invalidInput("products.find", "product id is required")
	}

	var (
		product domain.Product
		price   string
	)
	err := r.store.db(ctx).QueryRow(ctx,
		`SELECT id, name, price::text, stock, active, updated_at FROM products WHERE id = $1`, id,
	).Scan(&product.ID, &product.Name, &price, &product.Stock, &product.Active, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, notFound("products.find", "product "+id+" not found")
		}
		return domain.Product{}, mapError("products.find", err)
	}
	if product.Price, err = decodeMoney("price", price); err != nil {
		return domain.Product{}, fmt.Errorf("postgres products decode %s: %w", id, err)
	}
	return product, nil
}

// ApplyStockDelta locks the row and writes GREATEST(0, stock + delta) in one statement.
func (r *ProductRepository) ApplyStockDelta(ctx context.Context, productID string, delta int) (repositories.StockDeltaResult, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return repositories.StockDeltaResult{}, invalidInput("products.apply_stock_delta", "product id is required")
	}

	const query = `
WITH locked AS (
    SELECT id, stock FROM products WHERE id = $1 FOR UPDATE
)
UPDATE products p
SET stock = GREATEST(0, locked.stock + $2), updated_at = $3
FROM locked
WHERE p.id = locked.id
RETURNING locked.stock, p.stock`

	var result repositories.StockDeltaResult
	err := r.store.db(ctx).QueryRow(ctx, query, id, delta, r.store.now()).Scan(&result.Previous, &result.Current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repositories.StockDeltaResult{}, notFound("products.apply_stock_delta", "product "+id+" not found")
		}
		return repositories.StockDeltaResult{}, mapError("products.apply_stock_delta", err)
	}
	return result, nil
}

// StockLedgerRepository stores ledger entries in stock_ledger.
type StockLedgerRepository struct {
	store *Store
}

func (r *StockLedgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return invalidInput("stock_ledger.append", "entry id is required")
	}
	_, err := r.store.db(ctx).Exec(ctx, `
INSERT INTO stock_ledger (id, product_id, previous_stock, new_stock, change, requested_change, reason, order_id, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, strings.TrimSpace(entry.ProductID), entry.PreviousStock, entry.NewStock, entry.Change,
		entry.RequestedChange, entry.Reason, entry.OrderID, entry.ActorID, entry.CreatedAt.UTC(),
	)
	return mapError("stock_ledger.append", err)
}

// ListByProduct returns entries newest first.
func (r *StockLedgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	args := []any{strings.TrimSpace(productID)}
	where := "product_id = $1"
	if pager.PageToken != "" {
		keyset, err := pagination.DecodeKeyset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, repositories.NewError("stock_ledger.list", repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		args = append(args, keyset.CreatedAt, keyset.ID)
		where += " AND (created_at, id) < ($2, $3)"
	}
	args = append(args, size+1)

	rows, err := r.store.db(ctx).Query(ctx, fmt.Sprintf(`
SELECT id, product_id, previous_stock, new_stock, change, requested_change, reason, order_id, actor_id, created_at
FROM stock_ledger WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, mapError("stock_ledger.list", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StockLedgerEntry, error) {
		var entry domain.StockLedgerEntry
		err := row.Scan(&entry.ID, &entry.ProductID, &entry.PreviousStock, &entry.NewStock, &entry.Change,
			&entry.RequestedChange, &entry.Reason, &entry.OrderID, &entry.ActorID, &entry.CreatedAt)
		return entry, err
	})
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, mapError("stock_ledger.list", err)
	}

	page := domain.CursorPage[domain.StockLedgerEntry]{Items: entries}
	if len(entries) > size {
		page.Items = entries[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeKeyset(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("stock_ledger.list: %w", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// CourierRepository reads couriers.
type CourierRepository struct {
	store *Store
}

func (r *CourierRepository) FindByID(ctx context.Context, courierID string) (domain.Courier, error) {
	id := strings.TrimSpace(courierID)
	if id == "" {
		return domain.Courier{}, invalidInput("couriers.find", "courier id is required")
	}
	var courier domain.Courier
	err := r.store.db(ctx).QueryRow(ctx, `SELECT id, name, active FROM couriers WHERE id = $1`, id).
		Scan(&courier.ID, &courier.Name, &courier.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Courier{}, notFound("couriers.find", "courier "+id+" not found")
		}
		return domain.Courier{}, mapError("couriers.find", err)
	}
	return courier, nil
}

// CounterRepository keeps sequences in the counters table.
type CounterRepository struct {
	store *Store
}

// Next locks the counter row, creating it first if needed, and returns the incremented value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, invalidInput("counters.next", "counter id is required")
	}
	if step < 0 {
		return 0, invalidInput("counters.next", fmt.Sprintf("step must be positive, got %d", step))
	}

	var next int64
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.db(ctx)
		now := r.store.now()
		if _, err := db.Exec(ctx, `INSERT INTO counters (id, updated_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, now); err != nil {
			return mapError("counters.next", err)
		}

		var (
			current, configured int64
			maxValue            *int64
		)
		err := db.QueryRow(ctx, `SELECT current_value, step, max_value FROM counters WHERE id = $1 FOR UPDATE`, id).
			Scan(&current, &configured, &maxValue)
		if err != nil {
			return mapError("counters.next", err)
		}

		increment := step
		if increment <= 0 {
			increment = max(configured, 1)
		}
		next = current + increment
		if maxValue != nil && next > *maxValue {
			return repositories.NewError("counters.next", repositories.ErrorKindExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *maxValue), nil)
		}
		_, err = db.Exec(ctx, `UPDATE counters SET current_value = $2, step = $3, updated_at = $4 WHERE id = $1`, id, next, increment, now)
		return mapError("counters.next", err)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Configure updates step, bound and initial value; unset fields keep their stored value.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return invalidInput("counters.configure", "counter id is required")
	}
	var step *int64
	if cfg.Step > 0 {
		step = &cfg.Step
	}
	_, err := r.store.db(ctx).Exec(ctx, `
INSERT INTO counters (id, current_value, step, max_value, updated_at)
VALUES ($1, COALESCE($2::bigint, 0), COALESCE($3::bigint, 1), $4, $5)
ON CONFLICT (id) DO UPDATE SET
    current_value = COALESCE($2::bigint, counters.current_value),
    step = COALESCE($3::bigint, counters.step),
    max_value = COALESCE($4::bigint, counters.max_value),
    updated_at = $5`,
		id, cfg.InitialValue, step, cfg.MaxValue, r.store.now(),
	)
	return mapError("counters.configure", err)
}
