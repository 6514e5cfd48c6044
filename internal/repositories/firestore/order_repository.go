package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

type orderDocument struct {
	Number                string              `firestore:"number"`
	Category              string              `firestore:"category"`
	Status                string              `firestore:"status"`
	UserID                string              `firestore:"userId"`
	AddressID             *string             `firestore:"addressId,omitempty"`
	CourierID             *string             `firestore:"courierId"`
	Subtotal              string              `firestore:"subtotal"`
	Discount              string              `firestore:"discount"`
	DeliveryFee           string              `firestore:"deliveryFee"`
	OriginalDeliveryFee   *string             `firestore:"originalDeliveryFee,omitempty"`
	DeliveryFeeAdjusted   bool                `firestore:"deliveryFeeAdjusted"`
	DeliveryFeeAdjustedAt *time.Time          `firestore:"deliveryFeeAdjustedAt,omitempty"`
	Total                 string              `firestore:"total"`
	PaymentMethod         string              `firestore:"paymentMethod"`
	ChangeFor             *string             `firestore:"changeFor,omitempty"`
	Notes                 string              `firestore:"notes,omitempty"`
	Oversold              bool                `firestore:"oversold"`
	CancelReason          *string             `firestore:"cancelReason,omitempty"`
	Lines                 []orderLineDocument `firestore:"lines"`
	Timestamps            orderTimestampsDoc  `firestore:"timestamps"`
	CreatedBy             *string             `firestore:"createdBy,omitempty"`
	UpdatedBy             *string             `firestore:"updatedBy,omitempty"`
	CreatedAt             time.Time           `firestore:"createdAt"`
	UpdatedAt             time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int64  `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	LineTotal   string `firestore:"lineTotal"`
}

type orderTimestampsDoc struct {
	AcceptedAt   *time.Time `firestore:"acceptedAt,omitempty"`
	PreparingAt  *time.Time `firestore:"preparingAt,omitempty"`
	ReadyAt      *time.Time `firestore:"readyAt,omitempty"`
	DispatchedAt *time.Time `firestore:"dispatchedAt,omitempty"`
	ArrivedAt    *time.Time `firestore:"arrivedAt,omitempty"`
	DeliveredAt  *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt  *time.Time `firestore:"cancelledAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    int64(line.Quantity),
			UnitPrice:   encodeMoney(line.UnitPrice),
			LineTotal:   encodeMoney(line.LineTotal),
		})
	}
	ts := order.Timestamps
	return orderDocument{
		Number:                order.Number,
		Category:              string(order.Category),
		Status:                string(order.Status),
		UserID:                order.UserID,
		AddressID:             order.AddressID,
		CourierID:             order.CourierID,
		Subtotal:              encodeMoney(order.Subtotal),
		Discount:              encodeMoney(order.Discount),
		DeliveryFee:           encodeMoney(order.DeliveryFee),
		OriginalDeliveryFee:   encodeMoneyPtr(order.OriginalDeliveryFee),
		DeliveryFeeAdjusted:   order.DeliveryFeeAdjusted,
		DeliveryFeeAdjustedAt: order.DeliveryFeeAdjustedAt,
		Total:                 encodeMoney(order.Total),
		PaymentMethod:         string(order.PaymentMethod),
		ChangeFor:             encodeMoneyPtr(order.ChangeFor),
		Notes:                 order.Notes,
		Oversold:              order.Oversold,
		CancelReason:          order.CancelReason,
		Lines:                 lines,
		Timestamps: orderTimestampsDoc{
			AcceptedAt:   ts.AcceptedAt,
			PreparingAt:  ts.PreparingAt,
			ReadyAt:      ts.ReadyAt,
			DispatchedAt: ts.DispatchedAt,
			ArrivedAt:    ts.ArrivedAt,
			DeliveredAt:  ts.DeliveredAt,
			CancelledAt:  ts.CancelledAt,
		},
		CreatedBy: order.Audit.CreatedBy,
		UpdatedBy: order.Audit.UpdatedBy,
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	order := domain.Order{
		ID:                    id,
		Number:                d.Number,
		Category:              domain.OrderCategory(d.Category),
		Status:                domain.OrderStatus(d.Status),
		UserID:                d.UserID,
		AddressID:             d.AddressID,
		CourierID:             d.CourierID,
		DeliveryFeeAdjusted:   d.DeliveryFeeAdjusted,
		DeliveryFeeAdjustedAt: d.DeliveryFeeAdjustedAt,
		PaymentMethod:         domain.PaymentMethod(d.PaymentMethod),
		Notes:                 d.Notes,
		Oversold:              d.Oversold,
		CancelReason:          d.CancelReason,
		Timestamps: domain.OrderTimestamps{
			AcceptedAt:   d.Timestamps.AcceptedAt,
			PreparingAt:  d.Timestamps.PreparingAt,
			ReadyAt:      d.Timestamps.ReadyAt,
			DispatchedAt: d.Timestamps.DispatchedAt,
			ArrivedAt:    d.Timestamps.ArrivedAt,
			DeliveredAt:  d.Timestamps.DeliveredAt,
			CancelledAt:  d.Timestamps.CancelledAt,
		},
		Audit:     domain.OrderAudit{CreatedBy: d.CreatedBy, UpdatedBy: d.UpdatedBy},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}

	var err error
	if order.Subtotal, err = decodeMoney("subtotal", d.Subtotal); err != nil {
		return domain.Order{}, err
	}
	if order.Discount, err = decodeMoney("discount", d.Discount); err != nil {
		return domain.Order{}, err
	}
	if order.DeliveryFee, err = decodeMoney("deliveryFee", d.DeliveryFee); err != nil {
		return domain.Order{}, err
	}
	if order.Total, err = decodeMoney("total", d.Total); err != nil {
		return domain.Order{}, err
	}
	if order.OriginalDeliveryFee, err = decodeMoneyPtr("originalDeliveryFee", d.OriginalDeliveryFee); err != nil {
		return domain.Order{}, err
	}
	if order.ChangeFor, err = decodeMoneyPtr("changeFor", d.ChangeFor); err != nil {
		return domain.Order{}, err
	}

	order.Lines = make([]domain.OrderLine, 0, len(d.Lines))
	for i, line := range d.Lines {
		unitPrice, err := decodeMoney(fmt.Sprintf("lines[%d].unitPrice", i), line.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		lineTotal, err := decodeMoney(fmt.Sprintf("lines[%d].lineTotal", i), line.LineTotal)
		if err != nil {
			return domain.Order{}, err
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    int(line.Quantity),
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}
	return order, nil
}

// OrderRepository stores orders with their lines embedded in a single document.
type OrderRepository struct {
	store *Store
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return repositories.NewError("orders.insert", repositories.ErrorKindInvalidInput, "order id is required", nil)
	}
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		if err := r.checkReferences(ctx, "orders.insert", order.UserID, order.AddressID); err != nil {
			return err
		}
		ref, err := r.ref(ctx, id)
		if err != nil {
			return err
		}
		stx.Create(ref, newOrderDocument(order))
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		ref, err := r.ref(ctx, id)
		if err != nil {
			return err
		}
		if _, err := get(ctx, ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return notFound("orders.update", "order "+id+" not found")
			}
			return err
		}
		stx.Set(ref, newOrderDocument(order))
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	id := strings.TrimSpace(orderID)
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		ref, err := r.ref(ctx, id)
		if err != nil {
			return err
		}
		if _, err := get(ctx, ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return notFound("orders.delete", "order "+id+" not found")
			}
			return err
		}
		stx.Delete(ref)
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewError("orders.find", repositories.ErrorKindInvalidInput, "order id is required", nil)
	}
	ref, err := r.ref(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, notFound("orders.find", "order "+id+" not found")
		}
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	return decodeOrder(snap)
}

// ListByStatus returns matching orders oldest first.
func (r *OrderRepository) ListByStatus(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Query
	if len(filter.Statuses) == 1 {
		query = query.Where("status", "==", string(filter.Statuses[0]))
	} else if len(filter.Statuses) > 1 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.Category != nil {
		query = query.Where("category", "==", string(*filter.Category))
	}
	query = withTimeRange(query, filter.CreatedIn)
	return r.page(ctx, "orders.list_by_status", query, filter.Pagination, firestore.Asc)
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Where("userId", "==", strings.TrimSpace(userID))
	return r.page(ctx, "orders.list_by_user", query, pager, firestore.Desc)
}

func (r *OrderRepository) ListByCourier(ctx context.Context, courierID string, window domain.TimeRange) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := withTimeRange(coll.Where("courierId", "==", strings.TrimSpace(courierID)), window).
		OrderBy("createdAt", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.list_by_courier", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *OrderRepository) page(ctx context.Context, op string, query firestore.Query, pager domain.Pagination, dir firestore.Direction) (domain.CursorPage[domain.Order], error) {
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	query = query.OrderBy("createdAt", dir).OrderBy(firestore.DocumentID, dir)
	if pager.PageToken != "" {
		keyset, err := pagination.DecodeKeyset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		query = query.StartAfter(keyset.CreatedAt, keyset.ID)
	}

	iter := query.Limit(size + 1).Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError(op, err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
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

func (r *OrderRepository) CheckReferences(ctx context.Context, userID string, addressID *string) error {
	if err := r.checkReferences(ctx, "orders.check_references", userID, addressID); err != nil {
		return pfirestore.WrapError("orders.check_references", err)
	}
	return nil
}

// checkReferences verifies the user and, when set, the address under users/{uid}/addresses.
func (r *OrderRepository) checkReferences(ctx context.Context, op, userID string, addressID *string) error {
	if strings.TrimSpace(userID) == "" {
		return invalidReference(op, "user id is required")
	}
	userRef, err := r.store.doc(ctx, usersCollection+"/"+userID)
	if err != nil {
		return err
	}
	if _, err := get(ctx, userRef); err != nil {
		if status.Code(err) == codes.NotFound {
			return invalidReference(op, "user "+userID+" does not exist")
		}
		return err
	}
	if addressID == nil {
		return nil
	}
	addressRef := userRef.Collection(addressSubcollection).Doc(*addressID)
	if _, err := get(ctx, addressRef); err != nil {
		if status.Code(err) == codes.NotFound {
			return invalidReference(op, "address "+*addressID+" does not exist")
		}
		return err
	}
	return nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.store.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

func (r *OrderRepository) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return r.store.doc(ctx, ordersCollection+"/"+id)
}

func withTimeRange(query firestore.Query, window domain.TimeRange) firestore.Query {
	if window.From != nil {
		query = query.Where("createdAt", ">=", window.From.UTC())
	}
	if window.To != nil {
		query = query.Where("createdAt", "<", window.To.UTC())
	}
	return query
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}
	order, err := doc.toDomain(snap.Ref.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}
	return order, nil
}
