package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const (
	stockLedgerIDPrefix = "stl_"
	defaultRestockNote  = "Manual restock"
	maxLedgerReasonLen  = 200
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products    repositories.ProductRepository
	Ledger      repositories.StockLedgerRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products   repositories.ProductRepository
	ledger     repositories.StockLedgerRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: stock ledger repository is required")
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

	return &inventoryService{
		products:   deps.Products,
		ledger:     deps.Ledger,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// ApplyDelta clamps the product's stock at zero and appends one ledger entry describing the change
// that was actually applied. Both writes join the unit of work carried by ctx.
func (s *inventoryService) ApplyDelta(ctx context.Context, cmd StockDeltaCommand) (StockChange, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockChange{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Delta == 0 {
		return StockChange{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryInvalidInput)
	}
	reason := truncateRunes(strings.TrimSpace(cmd.Reason), maxLedgerReasonLen)
	if reason == "" {
		return StockChange{}, fmt.Errorf("%w: reason is required", ErrInventoryInvalidInput)
	}

	result, err := s.products.ApplyStockDelta(ctx, productID, cmd.Delta)
	if err != nil {
		return StockChange{}, s.mapRepositoryError(productID, err)
	}

	applied := result.Current - result.Previous
	entry := domain.StockLedgerEntry{
		ID:              stockLedgerIDPrefix + s.newID(),
		ProductID:       productID,
		PreviousStock:   result.Previous,
		NewStock:        result.Current,
		Change:          applied,
		RequestedChange: cmd.Delta,
		Reason:          reason,
		OrderID:         optionalString(strings.TrimSpace(cmd.OrderID)),
		ActorID:         optionalString(strings.TrimSpace(cmd.ActorID)),
		CreatedAt:       s.clock(),
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return StockChange{}, s.mapRepositoryError(productID, err)
	}

	change := StockChange{
		ProductID: productID,
		Previous:  result.Previous,
		Current:   result.Current,
		Requested: cmd.Delta,
		Applied:   applied,
		Entry:     entry,
	}
	if change.Clamped() {
		s.logger(ctx, "inventory.stock.clamped", map[string]any{
			"productId": productID,
			"requested": cmd.Delta,
			"applied":   applied,
			"previous":  result.Previous,
			"reason":    reason,
		})
	}
	return change, nil
}

func (s *inventoryService) ApplyOrderLines(ctx context.Context, cmd OrderLinesCommand) (StockChanges, error) {
	if cmd.Direction != StockOut && cmd.Direction != StockIn {
		return nil, fmt.Errorf("%w: unknown stock direction %d", ErrInventoryInvalidInput, cmd.Direction)
	}
	changes := make(StockChanges, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity for %s must be positive", ErrInventoryInvalidInput, line.ProductID)
		}
		change, err := s.ApplyDelta(ctx, StockDeltaCommand{
			ProductID: line.ProductID,
			Delta:     int(cmd.Direction) * line.Quantity,
			Reason:    cmd.Reason,
			OrderID:   cmd.OrderID,
			ActorID:   cmd.ActorID,
		})
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (s *inventoryService) Restock(ctx context.Context, cmd RestockCommand) (StockChange, error) {
	if cmd.Quantity <= 0 {
		return StockChange{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultRestockNote
	}

	var change StockChange
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		change, err = s.ApplyDelta(txCtx, StockDeltaCommand{
			ProductID: cmd.ProductID,
			Delta:     cmd.Quantity,
			Reason:    reason,
			ActorID:   cmd.ActorID,
		})
		return err
	})
	if err != nil {
		if isInventoryError(err) {
			return StockChange{}, err
		}
		return StockChange{}, fmt.Errorf("%w: %v", ErrInventoryStoreFailure, err)
	}
	return change, nil
}

func (s *inventoryService) ListLedger(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockLedgerEntry], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[StockLedgerEntry]{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	page, err := s.ledger.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[StockLedgerEntry]{}, s.mapRepositoryError(productID, err)
	}
	return page, nil
}

func (s *inventoryService) mapRepositoryError(productID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: product %s", ErrInventoryProductNotFound, productID)
	}
	var refErr repositories.ReferenceError
	if errors.As(err, &refErr) && refErr.IsInvalidReference() {
		return fmt.Errorf("%w: product %s", ErrInventoryProductNotFound, productID)
	}
	return fmt.Errorf("%w: %v", ErrInventoryStoreFailure, err)
}

func isInventoryError(err error) bool {
	return errors.Is(err, ErrInventoryInvalidInput) ||
		errors.Is(err, ErrInventoryProductNotFound) ||
		errors.Is(err, ErrInventoryStoreFailure)
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
