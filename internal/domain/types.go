package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// TimeRange bounds list queries by creation time. Nil bounds are open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the range (inclusive start, exclusive end).
func (r TimeRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && !t.Before(*r.To) {
		return false
	}
	return true
}

// OrderCategory distinguishes courier-fulfilled orders from walk-in register sales.
type OrderCategory string

const (
	// OrderCategoryDelivery orders go through courier dispatch.
	OrderCategoryDelivery OrderCategory = "delivery"
	// OrderCategoryCounter orders are handed over at the register (PDV) and skip dispatch.
	OrderCategoryCounter OrderCategory = "counter"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAccepted indicates the store accepted the order.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusPreparing indicates the kitchen/bar is preparing the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is packed and waiting for a courier or the customer.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusDispatched indicates a courier left with the order.
	OrderStatusDispatched OrderStatus = "dispatched"
	// OrderStatusArrived indicates the courier reached the delivery address.
	OrderStatusArrived OrderStatus = "arrived"
	// OrderStatusDelivered is terminal: the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal: the order was cancelled and its stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDispatched,
	OrderStatusArrived,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentMethod is informational only; no gateway settles it.
type PaymentMethod string

const (
	PaymentMethodCash       PaymentMethod = "cash"
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodDebitCard  PaymentMethod = "debit_card"
	PaymentMethodOther      PaymentMethod = "other"
)

// Order captures the header, money fields and lifecycle stamps of one transaction.
type Order struct {
	ID                    string
	Number                string
	Category              OrderCategory
	Status                OrderStatus
	UserID                string
	AddressID             *string
	// CourierID is set when a ready order is assigned and dispatched. It stays after delivery so
	// the courier report can find the order, and is cleared on cancellation.
	CourierID             *string
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	DeliveryFee           decimal.Decimal
	OriginalDeliveryFee   *decimal.Decimal
	DeliveryFeeAdjusted   bool
	DeliveryFeeAdjustedAt *time.Time
	Total                 decimal.Decimal
	PaymentMethod         PaymentMethod
	ChangeFor             *decimal.Decimal
	Notes                 string
	Oversold              bool
	CancelReason          *string
	Lines                 []OrderLine
	Timestamps            OrderTimestamps
	Audit                 OrderAudit
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ComputeTotal returns subtotal - discount + deliveryFee.
func (o Order) ComputeTotal() decimal.Decimal {
	return o.Subtotal.Sub(o.Discount).Add(o.DeliveryFee)
}

// OrderLine is an immutable snapshot of one purchased product.
type OrderLine struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// OrderTimestamps records when the order entered each status. Each is set at most once.
type OrderTimestamps struct {
	AcceptedAt   *time.Time
	PreparingAt  *time.Time
	ReadyAt      *time.Time
	DispatchedAt *time.Time
	ArrivedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
}

// OrderAudit tracks the actors that created and last touched the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// Product is the engine's view of a catalog item: identity, stock and availability.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	UpdatedAt time.Time
}

// Courier is a motoboy that can be assigned to ready delivery orders.
type Courier struct {
	ID     string
	Name   string
	Active bool
}

// StockLedgerEntry is an append-only record of one stock change.
type StockLedgerEntry struct {
	ID              string
	ProductID       string
	PreviousStock   int
	NewStock        int
	Change          int
	RequestedChange int
	Reason          string
	OrderID         *string
	ActorID         *string
	CreatedAt       time.Time
}

// Clamped reports whether the applied change differs from the requested one.
func (e StockLedgerEntry) Clamped() bool {
	return e.Change != e.RequestedChange
}

// CourierReport summarises a courier's orders over a time range.
type CourierReport struct {
	CourierID      string
	Orders         []Order
	DeliveredCount int
	DeliveryFees   decimal.Decimal
}

// Health statuses used by readiness reports.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
