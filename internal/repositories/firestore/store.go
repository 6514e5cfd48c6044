package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const (
	ordersCollection   = "orders"
	productsCollection = "products"
	couriersCollection = "couriers"
	usersCollection    = "users"
	countersCollection = "counters"

	ledgerSubcollection  = "stockLedger"
	addressSubcollection = "addresses"
)

// Store is the Firestore backed repositories.Registry. Repositories called with a context handed
// out by RunInTx read through the transaction and stage their writes until it commits.
type Store struct {
	provider *pfirestore.Provider
	clock    func() time.Time

	orders   *OrderRepository
	products *ProductRepository
	ledger   *StockLedgerRepository
	couriers *CourierRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wires every Firestore repository to provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	store := &Store{provider: provider, clock: time.Now}
	store.orders = &OrderRepository{store: store}
	store.products = &ProductRepository{store: store}
	store.ledger = &StockLedgerRepository{store: store}
	store.couriers = &CourierRepository{store: store}
	store.counters = &CounterRepository{store: store}
	return store, nil
}

// RunInTx runs fn inside a Firestore transaction. Firestore may call fn more than once when the
// transaction is contended.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.provider.RunStagedTransaction(ctx, fn)
}

// Close releases the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

func (s *Store) Orders() repositories.OrderRepository { return s.orders }
func (s *Store) Products() repositories.ProductRepository { return s.products }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return s.ledger }
func (s *Store) Couriers() repositories.CourierRepository { return s.couriers }
func (s *Store) Counters() repositories.CounterRepository { return s.counters }

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func (s *Store) client(ctx context.Context) (*firestore.Client, error) {
	return s.provider.Client(ctx)
}

func (s *Store) doc(ctx context.Context, path string) (*firestore.DocumentRef, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Doc(path), nil
}

// get reads ref through the active transaction when there is one.
func get(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if stx, ok := pfirestore.StagedTxFromContext(ctx); ok {
		return stx.Get(ref)
	}
	return ref.Get(ctx)
}

// inTx runs fn in the caller's transaction, or in a new one.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, stx *pfirestore.StagedTx) error) error {
	return s.provider.RunStagedTransaction(ctx, func(ctx context.Context) error {
		stx, _ := pfirestore.StagedTxFromContext(ctx)
		return fn(ctx, stx)
	})
}

func encodeMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func encodeMoneyPtr(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	encoded := encodeMoney(*value)
	return &encoded
}

func decodeMoney(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return value, nil
}

func decodeMoneyPtr(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decodeMoney(field, *raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func notFound(op, message string) error {
	return repositories.NewError(op, repositories.ErrorKindNotFound, message, nil)
}

func invalidReference(op, message string) error {
	return repositories.NewError(op, repositories.ErrorKindInvalidReference, message, nil)
}
