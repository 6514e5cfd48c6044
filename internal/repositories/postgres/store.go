// Package postgres implements the repositories contracts on PostgreSQL through pgx. Stock updates
// are single clamped UPDATE statements, so concurrent orders serialise on the product row.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

//go:embed schema.sql
var schema string

type txKey struct{}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config controls pool construction.
type Config struct {
	DSN      string
	MaxConns int32
	Migrate  bool
}

// Store is the PostgreSQL backed repositories.Registry.
type Store struct {
	pool  *pgxpool.Pool
	clock func() time.Time

	orders   *OrderRepository
	products *ProductRepository
	ledger   *StockLedgerRepository
	couriers *CourierRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open connects a pool for cfg and applies the schema when cfg.Migrate is set.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres store requires dsn")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	store := NewStore(pool)
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewStore wires every repository to an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	store := &Store{pool: pool, clock: time.Now}
	store.orders = &OrderRepository{store: store}
	store.products = &ProductRepository{store: store}
	store.ledger = &StockLedgerRepository{store: store}
	store.couriers = &CourierRepository{store: store}
	store.counters = &CounterRepository{store: store}
	return store
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return mapError("postgres.migrate", err)
	}
	return nil
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapError("postgres.ping", err)
	}
	return nil
}

// RunInTx runs fn inside a read committed transaction. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("postgres.begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("postgres.commit", err)
	}
	return nil
}

// Pool exposes the pool for components that keep their own tables in the same database.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) Orders() repositories.OrderRepository { return s.orders }
func (s *Store) Products() repositories.ProductRepository { return s.products }
func (s *Store) StockLedger() repositories.StockLedgerRepository { return s.ledger }
func (s *Store) Couriers() repositories.CourierRepository { return s.couriers }
func (s *Store) Counters() repositories.CounterRepository { return s.counters }

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// db returns the transaction bound to ctx, or the pool.
func (s *Store) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// SQLSTATE codes mapped onto repository error kinds.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeAdminShutdown       = "57P01"
	codeCannotConnectNow    = "57P03"
)

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewError(op, repositories.ErrorKindNotFound, "", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeForeignKeyViolation:
			return repositories.NewError(op, repositories.ErrorKindInvalidReference, pgErr.Detail, err)
		case pgErr.Code == codeUniqueViolation, pgErr.Code == codeSerialization, pgErr.Code == codeDeadlock:
			return repositories.NewError(op, repositories.ErrorKindConflict, pgErr.Message, err)
		case pgErr.Code == codeCheckViolation:
			return repositories.NewError(op, repositories.ErrorKindInvalidInput, pgErr.Message, err)
		case pgErr.Code == codeAdminShutdown, pgErr.Code == codeCannotConnectNow, strings.HasPrefix(pgErr.Code, "08"):
			return repositories.NewError(op, repositories.ErrorKindUnavailable, pgErr.Message, err)
		}
		return repositories.NewError(op, repositories.ErrorKindUnknown, pgErr.Message, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return repositories.NewError(op, repositories.ErrorKindUnavailable, "", err)
	}
	return repositories.NewError(op, repositories.ErrorKindUnknown, "", err)
}

func notFound(op, message string) error {
	return repositories.NewError(op, repositories.ErrorKindNotFound, message, nil)
}

func invalidReference(op, message string) error {
	return repositories.NewError(op, repositories.ErrorKindInvalidReference, message, nil)
}

func invalidInput(op, message string) error {
	return repositories.NewError(op, repositories.ErrorKindInvalidInput, message, nil)
}

// Money travels as text so NUMERIC values keep their scale without a pgx numeric adapter.

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
