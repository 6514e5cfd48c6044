package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const orderColumns = `id, number, category, status, user_id, address_id, courier_id,
    subtotal::text, discount::text, delivery_fee::text, original_delivery_fee::text,
    delivery_fee_adjusted, delivery_fee_adjusted_at, total::text, payment_method, change_for::text,
    notes, oversold, cancel_reason,
    accepted_at, preparing_at, ready_at, dispatched_at, arrived_at, delivered_at, cancelled_at,
    created_by, updated_by, created_at, updated_at`

// OrderRepository stores order headers in orders and their lines in order_lines.
type OrderRepository struct {
	store *Store
}

// Insert writes the header and lines in one transaction. Unknown users, addresses and products
// surface as invalid reference errors through the foreign keys.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return invalidInput("orders.insert", "order id is required")
	}
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.db(ctx)
		_, err := db.Exec(ctx, `
INSERT INTO orders (id, number, category, status, user_id, address_id, courier_id,
    subtotal, discount, delivery_fee, original_delivery_fee,
    delivery_fee_adjusted, delivery_fee_adjusted_at, total, payment_method, change_for,
    notes, oversold, cancel_reason,
    accepted_at, preparing_at, ready_at, dispatched_at, arrived_at, delivered_at, cancelled_at,
    created_by, updated_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13,
    $14::numeric, $15, $16::numeric, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
			order.ID, order.Number, string(order.Category), string(order.Status), order.UserID, order.AddressID, order.CourierID,
			encodeMoney(order.Subtotal), encodeMoney(order.Discount), encodeMoney(order.DeliveryFee), encodeMoneyPtr(order.OriginalDeliveryFee),
			order.DeliveryFeeAdjusted, order.DeliveryFeeAdjustedAt, encodeMoney(order.Total), string(order.PaymentMethod), encodeMoneyPtr(order.ChangeFor),
			order.Notes, order.Oversold, order.CancelReason,
			order.Timestamps.AcceptedAt, order.Timestamps.PreparingAt, order.Timestamps.ReadyAt, order.Timestamps.DispatchedAt,
			order.Timestamps.ArrivedAt, order.Timestamps.DeliveredAt, order.Timestamps.CancelledAt,
			order.Audit.CreatedBy, order.Audit.UpdatedBy, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			return mapError("orders.insert", err)
		}
		if len(order.Lines) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, line := range order.Lines {
			batch.Queue(`
INSERT INTO order_lines (order_id, position, product_id, product_name, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
				order.ID, i, line.ProductID, line.ProductName, line.Quantity, encodeMoney(line.UnitPrice), encodeMoney(line.LineTotal))
		}
		return mapError("orders.insert_lines", db.SendBatch(ctx, batch).Close())
	})
}

// CheckReferences runs the same user and address checks as the orders foreign keys.
func (r *OrderRepository) CheckReferences(ctx context.Context, userID string, addressID *string) error {
	var userExists, addressOwned bool
	err := r.store.db(ctx).QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM users WHERE id = $1),
       $2::text IS NULL OR EXISTS (SELECT 1 FROM addresses WHERE id = $2 AND user_id = $1)`,
		strings.TrimSpace(userID), addressID,
	).Scan(&userExists, &addressOwned)
	if err != nil {
		return mapError("orders.check_references", err)
	}
	if !userExists {
		return invalidReference("orders.check_references", "user "+userID+" does not exist")
	}
	if !addressOwned {
		return invalidReference("orders.check_references", "address "+*addressID+" does not exist")
	}
	return nil
}

// Update rewrites the mutable header fields. Lines never change after insert.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.store.db(ctx).Exec(ctx, `
UPDATE orders SET
    status = $2, courier_id = $3, delivery_fee = $4::numeric, original_delivery_fee = $5::numeric,
    delivery_fee_adjusted = $6, delivery_fee_adjusted_at = $7, total = $8::numeric, notes = $9,
    oversold = $10, cancel_reason = $11,
    accepted_at = $12, preparing_at = $13, ready_at = $14, dispatched_at = $15, arrived_at = $16,
    delivered_at = $17, cancelled_at = $18, updated_by = $19, updated_at = $20
WHERE id = $1`,
		order.ID, string(order.Status), order.CourierID, encodeMoney(order.DeliveryFee), encodeMoneyPtr(order.OriginalDeliveryFee),
		order.DeliveryFeeAdjusted, order.DeliveryFeeAdjustedAt, encodeMoney(order.Total), order.Notes,
		order.Oversold, order.CancelReason,
		order.Timestamps.AcceptedAt, order.Timestamps.PreparingAt, order.Timestamps.ReadyAt, order.Timestamps.DispatchedAt,
		order.Timestamps.ArrivedAt, order.Timestamps.DeliveredAt, order.Timestamps.CancelledAt,
		order.Audit.UpdatedBy, order.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("orders.update", "order "+order.ID+" not found")
	}
	return nil
}

// Delete removes the order; its lines go with it through ON DELETE CASCADE.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	tag, err := r.store.db(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return mapError("orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("orders.delete", "order "+id+" not found")
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, invalidInput("orders.find", "order id is required")
	}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.store.inTx(ctx) {
		// Held until commit: a concurrent status change waits here and then sees the new status.
		sql += ` FOR UPDATE`
	}
	orders, err := r.query(ctx, "orders.find", sql, id)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, notFound("orders.find", "order "+id+" not found")
	}
	return orders[0], nil
}

// ListByStatus returns matching orders oldest first.
func (r *OrderRepository) ListByStatus(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var q whereBuilder
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		q.add("status = ANY(%s)", statuses)
	}
	if filter.Category != nil {
		q.add("category = %s", string(*filter.Category))
	}
	q.timeRange(filter.CreatedIn)
	return r.page(ctx, "orders.list_by_status", q, filter.Pagination, false)
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	var q whereBuilder
	q.add("user_id = %s", strings.TrimSpace(userID))
	return r.page(ctx, "orders.list_by_user", q, pager, true)
}

// ListByCourier returns every order assigned to the courier inside window, oldest first.
func (r *OrderRepository) ListByCourier(ctx context.Context, courierID string, window domain.TimeRange) ([]domain.Order, error) {
	var q whereBuilder
	q.add("courier_id = %s", strings.TrimSpace(courierID))
	q.timeRange(window)
	return r.query(ctx, "orders.list_by_courier",
		`SELECT `+orderColumns+` FROM orders WHERE `+q.sql()+` ORDER BY created_at, id`, q.args...)
}

func (r *OrderRepository) page(ctx context.Context, op string, q whereBuilder, pager domain.Pagination, desc bool) (domain.CursorPage[domain.Order], error) {
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	direction, comparison := "ASC", ">"
	if desc {
		direction, comparison = "DESC", "<"
	}
	if pager.PageToken != "" {
		keyset, err := pagination.DecodeKeyset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		q.add("(created_at, id) "+comparison+" (%s, %s)", keyset.CreatedAt, keyset.ID)
	}
	q.args = append(q.args, size+1)

	orders, err := r.query(ctx, op, fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at %s, id %s LIMIT $%d`,
		orderColumns, q.sql(), direction, direction, len(q.args)), q.args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeKeyset(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%s: %w", op, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// query runs an order select and attaches the lines of every returned order.
func (r *OrderRepository) query(ctx context.Context, op, sql string, args ...any) ([]domain.Order, error) {
	db := r.store.db(ctx)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}
	lineRows, err := db.Query(ctx, `
SELECT order_id, product_id, product_name, quantity, unit_price::text, line_total::text
FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			orderID, unitPrice, lineTotal string
			line                          domain.OrderLine
		)
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.Quantity, &unitPrice, &lineTotal); err != nil {
			return nil, mapError(op, err)
		}
		if line.UnitPrice, err = decodeMoney("unit_price", unitPrice); err != nil {
			return nil, fmt.Errorf("postgres order lines decode %s: %w", orderID, err)
		}
		if line.LineTotal, err = decodeMoney("line_total", lineTotal); err != nil {
			return nil, fmt.Errorf("postgres order lines decode %s: %w", orderID, err)
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		order                                  domain.Order
		category, status, paymentMethod        string
		subtotal, discount, deliveryFee, total string
		originalDeliveryFee, changeFor         *string
	)
	err := row.Scan(
		&order.ID, &order.Number, &category, &status, &order.UserID, &order.AddressID, &order.CourierID,
		&subtotal, &discount, &deliveryFee, &originalDeliveryFee,
		&order.DeliveryFeeAdjusted, &order.DeliveryFeeAdjustedAt, &total, &paymentMethod, &changeFor,
		&order.Notes, &order.Oversold, &order.CancelReason,
		&order.Timestamps.AcceptedAt, &order.Timestamps.PreparingAt, &order.Timestamps.ReadyAt, &order.Timestamps.DispatchedAt,
		&order.Timestamps.ArrivedAt, &order.Timestamps.DeliveredAt, &order.Timestamps.CancelledAt,
		&order.Audit.CreatedBy, &order.Audit.UpdatedBy, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Category = domain.OrderCategory(category)
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)

	if order.Subtotal, err = decodeMoney("subtotal", subtotal); err != nil {
		return domain.Order{}, err
	}
	if order.Discount, err = decodeMoney("discount", discount); err != nil {
		return domain.Order{}, err
	}
	if order.DeliveryFee, err = decodeMoney("delivery_fee", deliveryFee); err != nil {
		return domain.Order{}, err
	}
	if order.Total, err = decodeMoney("total", total); err != nil {
		return domain.Order{}, err
	}
	if order.OriginalDeliveryFee, err = decodeMoneyPtr("original_delivery_fee", originalDeliveryFee); err != nil {
		return domain.Order{}, err
	}
	if order.ChangeFor, err = decodeMoneyPtr("change_for", changeFor); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// whereBuilder accumulates AND-ed predicates. Each %s in a predicate becomes the next placeholder.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(predicate string, args ...any) {
	placeholders := make([]any, len(args))
	for i, arg := range args {
		w.args = append(w.args, arg)
		placeholders[i] = fmt.Sprintf("$%d", len(w.args))
	}
	w.clauses = append(w.clauses, fmt.Sprintf(predicate, placeholders...))
}

func (w *whereBuilder) timeRange(window domain.TimeRange) {
	if window.From != nil {
		w.add("created_at >= %s", window.From.UTC())
	}
	if window.To != nil {
		w.add("created_at < %s", window.To.UTC())
	}
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}
