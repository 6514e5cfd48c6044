package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderCategory      = domain.OrderCategory
	PaymentMethod      = domain.PaymentMethod
	StockLedgerEntry   = domain.StockLedgerEntry
	CourierReport      = domain.CourierReport
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService is the order lifecycle engine: creation, status changes, courier assignment, fee
// adjustment and deletion, each applied atomically with its stock side effects.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (Order, error)
	AssignCourier(ctx context.Context, cmd AssignCourierCommand) (Order, error)
	AdjustDeliveryFee(ctx context.Context, cmd AdjustDeliveryFeeCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrdersByStatus(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListOrdersByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	CourierReport(ctx context.Context, courierID string, window domain.TimeRange) (CourierReport, error)
}

// InventoryService applies clamped stock deltas and keeps the stock ledger.
type InventoryService interface {
	// ApplyDelta must be called inside the caller's unit of work.
	ApplyDelta(ctx context.Context, cmd StockDeltaCommand) (StockChange, error)
	// ApplyOrderLines applies one delta per order line. It must also run inside the caller's unit of work.
	ApplyOrderLines(ctx context.Context, cmd OrderLinesCommand) (StockChanges, error)
	Restock(ctx context.Context, cmd RestockCommand) (StockChange, error)
	ListLedger(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockLedgerEntry], error)
}

// CounterService hands out order numbers.
type CounterService interface {
	Prime(ctx context.Context) error
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService reports dependency health for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderLineInput is one requested line of a new order.
type OrderLineInput struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// CreateOrderCommand carries the inputs of a new order. Total is optional; when set it must match
// subtotal - discount + deliveryFee.
type CreateOrderCommand struct {
	Category      OrderCategory
	UserID        string
	AddressID     *string
	Lines         []OrderLineInput
	Subtotal      *decimal.Decimal
	Discount      decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         *decimal.Decimal
	PaymentMethod PaymentMethod
	ChangeFor     *decimal.Decimal
	Notes         string
	ActorID       string
}

// ChangeStatusCommand requests a validated status transition.
type ChangeStatusCommand struct {
	OrderID string
	Status  OrderStatus
	Reason  string
	ActorID string
}

// AssignCourierCommand dispatches a ready delivery order with a courier.
type AssignCourierCommand struct {
	OrderID   string
	CourierID string
	ActorID   string
}

// AdjustDeliveryFeeCommand overrides the delivery fee of an order.
type AdjustDeliveryFeeCommand struct {
	OrderID     string
	DeliveryFee decimal.Decimal
	ActorID     string
}

// DeleteOrderCommand purges an order without touching stock.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// StockDeltaCommand applies one signed change to a product's stock.
type StockDeltaCommand struct {
	ProductID string
	Delta     int
	Reason    string
	OrderID   string
	ActorID   string
}

// StockDirection says whether order lines take stock out or put it back.
type StockDirection int

const (
	StockOut StockDirection = -1
	StockIn  StockDirection = 1
)

// OrderLinesCommand moves stock for every line of one order. Reason is shared by all ledger entries.
type OrderLinesCommand struct {
	OrderID   string
	Lines     []OrderLine
	Direction StockDirection
	Reason    string
	ActorID   string
}

// StockChanges holds one StockChange per order line, in line order.
type StockChanges []StockChange

// Clamped reports whether any line was clamped at zero.
func (c StockChanges) Clamped() bool {
	for _, change := range c {
		if change.Clamped() {
			return true
		}
	}
	return false
}

// RestockCommand adds stock outside of any order.
type RestockCommand struct {
	ProductID string
	Quantity  int
	Reason    string
	ActorID   string
}

// StockChange reports the outcome of one ledger application.
type StockChange struct {
	ProductID string
	Previous  int
	Current   int
	Requested int
	Applied   int
	Entry     StockLedgerEntry
}

// Clamped reports whether stock bottomed out at zero and absorbed part of the requested change.
func (c StockChange) Clamped() bool {
	return c.Requested != c.Applied
}

