package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const (
	OrderEventCreated       = "order_created"
	OrderEventStatusChanged = "order_status_changed"
	OrderEventAssigned      = "order_assigned"
	OrderEventFeeUpdated    = "order_fee_updated"
	OrderEventDeleted       = "order_deleted"

	orderIDPrefix    = "ord_"
	maxOrderNotesLen = 500
)

var (
	notesPolicy = bluemonday.StrictPolicy()
	orderTracer = otel.Tracer("github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services/orders")
)

// OrderEventPublisher publishes order lifecycle events once the owning transaction committed.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	Category       OrderCategory
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	CourierID      string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Couriers    repositories.CourierRepository
	Inventory   InventoryService
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	couriers   repositories.CourierRepository
	inventory  InventoryService
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Couriers == nil {
		return nil, errors.New("order service: courier repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		couriers:   deps.Couriers,
		inventory:  deps.Inventory,
		counters:   deps.Counters,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := orderTracer.Start(ctx, "orders.create")
	defer func() { endSpan(span, err) }()

	order, err = s.buildOrder(cmd)
	if err != nil {
		return Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.category", string(order.Category)))

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// The store may retry fn on contention.
		order.Oversold = false

		// Every reference is validated before the first write.
		if err := s.orders.CheckReferences(txCtx, order.UserID, order.AddressID); err != nil {
			return s.mapRepositoryError(err)
		}

		// Product names are denormalised onto the lines.
		for i := range order.Lines {
			product, err := s.products.FindByID(txCtx, order.Lines[i].ProductID)
			if err != nil {
				if isNotFound(err) {
					return fmt.Errorf("%w: product %s does not exist", ErrOrderInvalidReference, order.Lines[i].ProductID)
				}
				return s.mapRepositoryError(err)
			}
			if !product.Active {
				return fmt.Errorf("%w: product %s is not available", ErrOrderInvalidReference, product.ID)
			}
			order.Lines[i].ProductName = product.Name
		}

		number, err := s.counters.NextOrderNumber(txCtx)
		if err != nil {
			return fmt.Errorf("%w: allocate order number: %v", ErrOrderStoreFailure, err)
		}
		order.Number = number

		changes, err := s.inventory.ApplyOrderLines(txCtx, OrderLinesCommand{
			OrderID:   order.ID,
			Lines:     order.Lines,
			Direction: StockOut,
			Reason:    "Order #" + number,
			ActorID:   cmd.ActorID,
		})
		if err != nil {
			return s.mapInventoryError(err)
		}
		order.Oversold = changes.Clamped()

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if order.Oversold {
		s.logger(ctx, "order.oversold", map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.Number,
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		Category:      order.Category,
		CurrentStatus: order.Status,
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"total":         order.Total.StringFixed(2),
			"paymentMethod": string(order.PaymentMethod),
			"oversold":      order.Oversold,
		},
	})

	return order, nil
}

func (s *orderService) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (order Order, err error) {
	ctx, span := orderTracer.Start(ctx, "orders.change_status")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if !isKnownStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status.requested", string(target)))

	actor := strings.TrimSpace(cmd.ActorID)
	var previous OrderStatus

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkTransition(loaded, target); err != nil {
			return err
		}
		if target == domain.OrderStatusDispatched && loaded.Category == domain.OrderCategoryDelivery && loaded.CourierID == nil {
			return &PreconditionError{
				Operation: "change_status",
				Required:  domain.OrderStatusReady,
				Current:   loaded.Status,
				Detail:    "dispatch requires a courier assignment",
			}
		}

		now := s.now()
		previous = loaded.Status
		loaded.Status = target
		loaded.UpdatedAt = now
		stampStatus(&loaded.Timestamps, target, now)
		if actor != "" {
			loaded.Audit.UpdatedBy = valuePtr(actor)
		}

		if target == domain.OrderStatusCancelled {
			loaded.CourierID = nil
			loaded.CancelReason = optionalString(strings.TrimSpace(cmd.Reason))
			if _, err := s.inventory.ApplyOrderLines(txCtx, OrderLinesCommand{
				OrderID:   loaded.ID,
				Lines:     loaded.Lines,
				Direction: StockIn,
				Reason:    "Cancellation of order #" + loaded.Number,
				ActorID:   actor,
			}); err != nil {
				return s.mapInventoryError(err)
			}
		}

		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if order.CancelReason != nil {
		metadata["reason"] = *order.CancelReason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		Category:       order.Category,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		CourierID:      derefString(order.CourierID),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) AssignCourier(ctx context.Context, cmd AssignCourierCommand) (order Order, err error) {
	ctx, span := orderTracer.Start(ctx, "orders.assign_courier")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	courierID := strings.TrimSpace(cmd.CourierID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if courierID == "" {
		return Order{}, fmt.Errorf("%w: courier id is required", ErrOrderInvalidInput)
	}
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("courier.id", courierID))

	actor := strings.TrimSpace(cmd.ActorID)
	var previous OrderStatus

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if loaded.Category != domain.OrderCategoryDelivery {
			return &PreconditionError{
				Operation: "assign_courier",
				Required:  domain.OrderStatusReady,
				Current:   loaded.Status,
				Detail:    "only delivery orders are dispatched by courier",
			}
		}
		if loaded.Status != domain.OrderStatusReady {
			return &PreconditionError{
				Operation: "assign_courier",
				Required:  domain.OrderStatusReady,
				Current:   loaded.Status,
			}
		}

		courier, err := s.couriers.FindByID(txCtx, courierID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: courier %s does not exist", ErrOrderInvalidReference, courierID)
			}
			return s.mapRepositoryError(err)
		}
		if !courier.Active {
			return fmt.Errorf("%w: courier %s is inactive", ErrOrderInvalidReference, courierID)
		}

		now := s.now()
		previous = loaded.Status
		loaded.CourierID = valuePtr(courier.ID)
		loaded.Status = domain.OrderStatusDispatched
		loaded.UpdatedAt = now
		stampStatus(&loaded.Timestamps, domain.OrderStatusDispatched, now)
		if actor != "" {
			loaded.Audit.UpdatedBy = valuePtr(actor)
		}

		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventAssigned,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		Category:       order.Category,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		CourierID:      courierID,
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
	})

	return order, nil
}

func (s *orderService) AdjustDeliveryFee(ctx context.Context, cmd AdjustDeliveryFeeCommand) (order Order, err error) {
	ctx, span := orderTracer.Start(ctx, "orders.adjust_delivery_fee")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.DeliveryFee.IsNegative() {
		return Order{}, fmt.Errorf("%w: delivery fee must not be negative", ErrOrderInvalidInput)
	}
	newFee := roundMoney(cmd.DeliveryFee)
	span.SetAttributes(attribute.String("order.id", orderID))

	actor := strings.TrimSpace(cmd.ActorID)
	var previousFee decimal.Decimal

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if loaded.Category != domain.OrderCategoryDelivery {
			return fmt.Errorf("%w: counter orders carry no delivery fee", ErrOrderInvalidInput)
		}

		now := s.now()
		previousFee = loaded.DeliveryFee
		if loaded.OriginalDeliveryFee == nil {
			loaded.OriginalDeliveryFee = valuePtr(loaded.DeliveryFee)
		}
		loaded.DeliveryFee = newFee
		loaded.Total = loaded.ComputeTotal()
		loaded.DeliveryFeeAdjusted = true
		loaded.DeliveryFeeAdjustedAt = valuePtr(now)
		loaded.UpdatedAt = now
		if actor != "" {
			loaded.Audit.UpdatedBy = valuePtr(actor)
		}

		if err := s.orders.Update(txCtx, loaded); err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventFeeUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		Category:      order.Category,
		CurrentStatus: order.Status,
		ActorID:       actor,
		OccurredAt:    order.UpdatedAt,
		Metadata: map[string]any{
			"previousDeliveryFee": previousFee.StringFixed(2),
			"deliveryFee":         order.DeliveryFee.StringFixed(2),
			"originalDeliveryFee": order.OriginalDeliveryFee.StringFixed(2),
			"total":               order.Total.StringFixed(2),
		},
	})

	return order, nil
}

// DeleteOrder purges the order and its lines. Stock is not restored; cancellation is the path
// that returns items to inventory.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (err error) {
	ctx, span := orderTracer.Start(ctx, "orders.delete")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var deleted Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		deleted = loaded
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventDeleted,
		OrderID:       deleted.ID,
		OrderNumber:   deleted.Number,
		Category:      deleted.Category,
		CurrentStatus: deleted.Status,
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    s.now(),
	})
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if !isKnownStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if filter.Category != nil && !isKnownCategory(*filter.Category) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown category %q", ErrOrderInvalidInput, *filter.Category)
	}
	page, err := s.orders.ListByStatus(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListOrdersByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// CourierReport lists the courier's orders in the window and totals the fees of delivered ones.
func (s *orderService) CourierReport(ctx context.Context, courierID string, window domain.TimeRange) (CourierReport, error) {
	courierID = strings.TrimSpace(courierID)
	if courierID == "" {
		return CourierReport{}, fmt.Errorf("%w: courier id is required", ErrOrderInvalidInput)
	}
	if window.From != nil && window.To != nil && !window.From.Before(*window.To) {
		return CourierReport{}, fmt.Errorf("%w: range start must precede range end", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByCourier(ctx, courierID, window)
	if err != nil {
		return CourierReport{}, s.mapRepositoryError(err)
	}

	report := CourierReport{CourierID: courierID, Orders: orders, DeliveryFees: decimal.Zero}
	for _, order := range orders {
		if order.Status != domain.OrderStatusDelivered {
			continue
		}
		report.DeliveredCount++
		report.DeliveryFees = report.DeliveryFees.Add(order.DeliveryFee)
	}
	return report, nil
}

func (s *orderService) buildOrder(cmd CreateOrderCommand) (Order, error) {
	category := OrderCategory(strings.TrimSpace(string(cmd.Category)))
	if !isKnownCategory(category) {
		return Order{}, fmt.Errorf("%w: unknown category %q", ErrOrderInvalidInput, cmd.Category)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}

	var addressID *string
	if cmd.AddressID != nil {
		addressID = optionalString(strings.TrimSpace(*cmd.AddressID))
	}

	switch category {
	case domain.OrderCategoryDelivery:
		if addressID == nil {
			return Order{}, fmt.Errorf("%w: delivery orders require an address", ErrOrderInvalidInput)
		}
	case domain.OrderCategoryCounter:
		if addressID != nil {
			return Order{}, fmt.Errorf("%w: counter orders cannot have an address", ErrOrderInvalidInput)
		}
		if !cmd.DeliveryFee.IsZero() {
			return Order{}, fmt.Errorf("%w: counter orders cannot have a delivery fee", ErrOrderInvalidInput)
		}
	}

	lines := make([]OrderLine, 0, len(cmd.Lines))
	subtotal := decimal.Zero
	for i, input := range cmd.Lines {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: lines[%d] product id is required", ErrOrderInvalidInput, i)
		}
		if input.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: lines[%d] quantity must be positive", ErrOrderInvalidInput, i)
		}
		if input.UnitPrice.IsNegative() {
			return Order{}, fmt.Errorf("%w: lines[%d] unit price must not be negative", ErrOrderInvalidInput, i)
		}
		unitPrice := roundMoney(input.UnitPrice)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, OrderLine{
			ProductID: productID,
			Quantity:  input.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})
	}

	if cmd.Subtotal != nil && !roundMoney(*cmd.Subtotal).Equal(subtotal) {
		return Order{}, fmt.Errorf("%w: subtotal %s does not match line totals %s", ErrOrderInvalidInput, cmd.Subtotal.StringFixed(2), subtotal.StringFixed(2))
	}
	if cmd.Discount.IsNegative() {
		return Order{}, fmt.Errorf("%w: discount must not be negative", ErrOrderInvalidInput)
	}
	if cmd.DeliveryFee.IsNegative() {
		return Order{}, fmt.Errorf("%w: delivery fee must not be negative", ErrOrderInvalidInput)
	}
	discount := roundMoney(cmd.Discount)
	if discount.GreaterThan(subtotal) {
		return Order{}, fmt.Errorf("%w: discount exceeds subtotal", ErrOrderInvalidInput)
	}

	now := s.now()
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Category:      category,
		Status:        domain.OrderStatusPending,
		UserID:        userID,
		AddressID:     addressID,
		Subtotal:      subtotal,
		Discount:      discount,
		DeliveryFee:   roundMoney(cmd.DeliveryFee),
		PaymentMethod: cmd.PaymentMethod,
		Notes:         sanitizeNotes(cmd.Notes),
		Lines:         lines,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Total = order.ComputeTotal()

	if cmd.Total != nil && !roundMoney(*cmd.Total).Equal(order.Total) {
		return Order{}, fmt.Errorf("%w: total %s does not equal subtotal - discount + delivery fee (%s)", ErrOrderInvalidInput, cmd.Total.StringFixed(2), order.Total.StringFixed(2))
	}

	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.PaymentMethodOther
	}
	if !isKnownPaymentMethod(order.PaymentMethod) {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if cmd.ChangeFor != nil {
		if order.PaymentMethod != domain.PaymentMethodCash {
			return Order{}, fmt.Errorf("%w: change is only given for cash payments", ErrOrderInvalidInput)
		}
		changeFor := roundMoney(*cmd.ChangeFor)
		if changeFor.LessThan(order.Total) {
			return Order{}, fmt.Errorf("%w: change amount %s is below the order total %s", ErrOrderInvalidInput, changeFor.StringFixed(2), order.Total.StringFixed(2))
		}
		order.ChangeFor = &changeFor
	}

	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.Audit.CreatedBy = valuePtr(actor)
		order.Audit.UpdatedBy = valuePtr(actor)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var refErr repositories.ReferenceError
	if errors.As(err, &refErr) && refErr.IsInvalidReference() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidReference, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}

	return fmt.Errorf("%w: %w", ErrOrderStoreFailure, err)
}

func (s *orderService) mapInventoryError(err error) error {
	switch {
	case errors.Is(err, ErrInventoryProductNotFound):
		return fmt.Errorf("%w: %v", ErrOrderInvalidReference, err)
	case errors.Is(err, ErrInventoryInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", ErrOrderStoreFailure, err)
	}
}

// runInTx maps commit failures that escape fn onto the order error taxonomy.
func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	err := s.unitOfWork.RunInTx(ctx, fn)
	if err == nil || isOrderError(err) {
		return err
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isOrderError(err error) bool {
	for _, target := range []error{
		ErrOrderInvalidInput,
		ErrOrderNotFound,
		ErrOrderInvalidTransition,
		ErrOrderInvalidPrecondition,
		ErrOrderInvalidReference,
		ErrOrderStoreFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isKnownStatus(status OrderStatus) bool {
	for _, candidate := range domain.OrderStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func isKnownCategory(category OrderCategory) bool {
	_, ok := transitionTableFor(category)
	return ok
}

func isKnownPaymentMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodPix, domain.PaymentMethodCreditCard,
		domain.PaymentMethodDebitCard, domain.PaymentMethodOther:
		return true
	}
	return false
}

func sanitizeNotes(notes string) string {
	cleaned := strings.TrimSpace(notesPolicy.Sanitize(notes))
	return truncateRunes(cleaned, maxOrderNotesLen)
}

func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
