package repositories

import (
	"context"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

// Registry is one store backend: every repository the order engine needs, sharing a transaction
// scope and a lifetime.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	StockLedger() StockLedgerRepository
	Couriers() CourierRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError lets services branch on a storage failure without knowing the backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ReferenceError is implemented by repository errors that can report a dangling foreign reference
// (unknown user, address or product).
type ReferenceError interface {
	IsInvalidReference() bool
}

// UnitOfWork groups repository operations in an all-or-nothing transaction. Repositories called
// with the context handed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their lines.
type OrderRepository interface {
	// Insert stores the order and its lines atomically. It fails with an invalid reference error when
	// the user or address does not exist.
	Insert(ctx context.Context, order domain.Order) error
	// CheckReferences fails with an invalid reference error when the user is unknown or the address,
	// if given, does not belong to that user.
	CheckReferences(ctx context.Context, userID string, addressID *string) error
	Update(ctx context.Context, order domain.Order) error
	// Delete removes the order and its lines.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByStatus(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListByCourier(ctx context.Context, courierID string, window domain.TimeRange) ([]domain.Order, error)
}

// ProductRepository exposes the product fields the order engine reads and the atomic stock update.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// ApplyStockDelta sets stock = max(0, stock + delta) as a single atomic update and reports the
	// stock before and after.
	ApplyStockDelta(ctx context.Context, productID string, delta int) (StockDeltaResult, error)
}

// StockDeltaResult reports the outcome of an atomic stock update.
type StockDeltaResult struct {
	Previous int
	Current  int
}

// StockLedgerRepository appends and lists stock audit entries.
type StockLedgerRepository interface {
	Append(ctx context.Context, entry domain.StockLedgerEntry) error
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error)
}

// CourierRepository resolves courier references during assignment.
type CourierRepository interface {
	FindByID(ctx context.Context, courierID string) (domain.Courier, error)
}

// CounterRepository hands out sequence values. Next joins the caller's transaction when there is
// one, so a rolled back order does not burn its number.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository probes the dependencies behind /readyz.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	Category   *domain.OrderCategory
	CreatedIn  domain.TimeRange
	Pagination domain.Pagination
}

// CounterConfig sets a counter's step, its upper bound and the value it starts from. Nil pointers
// and a zero Step leave the stored setting alone.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
