package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewError("orders.insert", repositories.ErrorKindInvalidInput, "order id is required", nil)
	}
	if _, exists := r.store.data.orders[order.ID]; exists {
		return repositories.NewError("orders.insert", repositories.ErrorKindConflict, "order "+order.ID+" already exists", nil)
	}
	if err := r.checkReferences("orders.insert", order.UserID, order.AddressID); err != nil {
		return err
	}
	r.store.data.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) CheckReferences(ctx context.Context, userID string, addressID *string) error {
	unlock := r.store.lock(ctx)
	defer unlock()
	return r.checkReferences("orders.check_references", userID, addressID)
}

// checkReferences is a no-op unless the store was built WithStrictReferences.
func (r orderRepository) checkReferences(op, userID string, addressID *string) error {
	if !r.store.strictRefs {
		return nil
	}
	if _, ok := r.store.data.users[userID]; !ok {
		return repositories.NewError(op, repositories.ErrorKindInvalidReference, "user "+userID+" does not exist", nil)
	}
	if addressID != nil {
		owner, ok := r.store.data.addresses[*addressID]
		if !ok || owner != userID {
			return repositories.NewError(op, repositories.ErrorKindInvalidReference, "address "+*addressID+" does not exist", nil)
		}
	}
	return nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.data.orders[order.ID]; !exists {
		return repositories.NewError("orders.update", repositories.ErrorKindNotFound, "order "+order.ID+" not found", nil)
	}
	r.store.data.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Delete(ctx context.Context, orderID string) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.data.orders[orderID]; !exists {
		return repositories.NewError("orders.delete", repositories.ErrorKindNotFound, "order "+orderID+" not found", nil)
	}
	delete(r.store.data.orders, orderID)
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	order, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewError("orders.find", repositories.ErrorKindNotFound, "order "+orderID+" not found", nil)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) ListByStatus(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	matches := r.collect(func(order domain.Order) bool {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			return false
		}
		if filter.Category != nil && order.Category != *filter.Category {
			return false
		}
		return filter.CreatedIn.Contains(order.CreatedAt)
	})
	slices.SortFunc(matches, compareOrdersAsc)
	return pageOrders("orders.list_by_status", matches, filter.Pagination, false)
}

func (r orderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	matches := r.collect(func(order domain.Order) bool {
		return order.UserID == userID
	})
	slices.SortFunc(matches, func(a, b domain.Order) int { return compareOrdersAsc(b, a) })
	return pageOrders("orders.list_by_user", matches, pager, true)
}

func (r orderRepository) ListByCourier(ctx context.Context, courierID string, window domain.TimeRange) ([]domain.Order, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	matches := r.collect(func(order domain.Order) bool {
		return order.CourierID != nil && *order.CourierID == courierID && window.Contains(order.CreatedAt)
	})
	slices.SortFunc(matches, compareOrdersAsc)
	return matches, nil
}

func (r orderRepository) collect(match func(domain.Order) bool) []domain.Order {
	var matches []domain.Order
	for _, order := range r.store.data.orders {
		if match(order) {
			matches = append(matches, cloneOrder(order))
		}
	}
	return matches
}

func compareOrdersAsc(a, b domain.Order) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// pageOrders slices sorted orders after the keyset carried by the page token.
func pageOrders(op string, sorted []domain.Order, pager domain.Pagination, desc bool) (domain.CursorPage[domain.Order], error) {
	start := 0
	if pager.PageToken != "" {
		keyset, err := pagination.DecodeKeyset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		start = len(sorted)
		for i, order := range sorted {
			c := compareOrdersAsc(order, domain.Order{ID: keyset.ID, CreatedAt: keyset.CreatedAt})
			if (!desc && c > 0) || (desc && c < 0) {
				start = i
				break
			}
		}
	}

	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	end := min(start+size, len(sorted))

	page := domain.CursorPage[domain.Order]{Items: sorted[start:end]}
	if end < len(sorted) {
		last := sorted[end-1]
		token, err := pagination.EncodeKeyset(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.ErrorKindUnknown, "", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.Lines = slices.Clone(order.Lines)
	cloned.AddressID = clonePtr(order.AddressID)
	cloned.CourierID = clonePtr(order.CourierID)
	cloned.OriginalDeliveryFee = clonePtr(order.OriginalDeliveryFee)
	cloned.DeliveryFeeAdjustedAt = clonePtr(order.DeliveryFeeAdjustedAt)
	cloned.ChangeFor = clonePtr(order.ChangeFor)
	cloned.CancelReason = clonePtr(order.CancelReason)
	cloned.Audit.CreatedBy = clonePtr(order.Audit.CreatedBy)
	cloned.Audit.UpdatedBy = clonePtr(order.Audit.UpdatedBy)
	ts := order.Timestamps
	cloned.Timestamps = domain.OrderTimestamps{
		AcceptedAt:   clonePtr(ts.AcceptedAt),
		PreparingAt:  clonePtr(ts.PreparingAt),
		ReadyAt:      clonePtr(ts.ReadyAt),
		DispatchedAt: clonePtr(ts.DispatchedAt),
		ArrivedAt:    clonePtr(ts.ArrivedAt),
		DeliveredAt:  clonePtr(ts.DeliveredAt),
		CancelledAt:  clonePtr(ts.CancelledAt),
	}
	return cloned
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}
