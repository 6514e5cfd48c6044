// Package memory implements the repositories contracts in process. It backs local development and
// service tests; transactions are serialised and roll back by restoring a snapshot.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

type txKey struct{}

type counterState struct {
	value int64
	step  int64
	max   *int64
}

type state struct {
	orders    map[string]domain.Order
	products  map[string]domain.Product
	couriers  map[string]domain.Courier
	users     map[string]struct{}
	addresses map[string]string
	ledger    []domain.StockLedgerEntry
	counters  map[string]counterState
}

func newState() state {
	return state{
		orders:    make(map[string]domain.Order),
		products:  make(map[string]domain.Product),
		couriers:  make(map[string]domain.Courier),
		users:     make(map[string]struct{}),
		addresses: make(map[string]string),
		counters:  make(map[string]counterState),
	}
}

// Stored values are replaced, never mutated in place, so shallow copies make a valid snapshot.
func (s state) snapshot() state {
	return state{
		orders:    maps.Clone(s.orders),
		products:  maps.Clone(s.products),
		couriers:  maps.Clone(s.couriers),
		users:     maps.Clone(s.users),
		addresses: maps.Clone(s.addresses),
		ledger:    slices.Clone(s.ledger),
		counters:  maps.Clone(s.counters),
	}
}

// Option customises the store.
type Option func(*Store)

// WithStrictReferences makes order inserts fail with an invalid reference error unless the user
// (and address, when set) were registered through PutUser/PutAddress.
func WithStrictReferences() Option {
	return func(s *Store) {
		s.strictRefs = true
	}
}

// Store is an in-process repositories.Registry.
type Store struct {
	mu         sync.Mutex
	data       state
	strictRefs bool
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	store := &Store{data: newState()}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// RunInTx runs fn with exclusive access to the store. Any error returned by fn, or a context that
// ended before commit, discards every write made inside fn.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.snapshot()
	txCtx := context.WithValue(ctx, txKey{}, s)
	if err := fn(txCtx); err != nil {
		s.data = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }
func (s *Store) Products() repositories.ProductRepository { return productRepository{store: s} }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return ledgerRepository{store: s} }
func (s *Store) Couriers() repositories.CourierRepository { return courierRepository{store: s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepository{store: s} }

// PutProduct creates or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[product.ID] = product
}

// PutCourier creates or replaces a courier.
func (s *Store) PutCourier(courier domain.Courier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.couriers[courier.ID] = courier
}

// PutUser registers a user id for reference checks.
func (s *Store) PutUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[userID] = struct{}{}
}

// PutAddress registers an address owned by userID for reference checks.
func (s *Store) PutAddress(addressID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.addresses[addressID] = userID
}

// Ping reports readiness; the memory store is always available.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store mutex unless ctx already runs inside this store's transaction.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
