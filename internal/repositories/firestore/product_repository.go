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

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := decodeMoney("price", d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     price,
		Stock:     int(d.Stock),
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// ProductRepository reads products and applies clamped stock updates.
type ProductRepository struct {
	store *Store
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	doc, err := r.load(ctx, "products.find", id)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := doc.toDomain(id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("firestore products decode %s: %w", id, err)
	}
	return product, nil
}

// ApplyStockDelta reads the product inside a transaction and writes max(0, stock+delta). Concurrent
// updates to the same product conflict and Firestore retries the loser.
func (r *ProductRepository) ApplyStockDelta(ctx context.Context, productID string, delta int) (repositories.StockDeltaResult, error) {
	id := strings.TrimSpace(productID)
	var result repositories.StockDeltaResult
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		doc, err := r.load(ctx, "products.apply_stock_delta", id)
		if err != nil {
			return err
		}
		ref, err := r.ref(ctx, id)
		if err != nil {
			return err
		}

		previous := doc.Stock
		doc.Stock = max(0, previous+int64(delta))
		doc.UpdatedAt = r.store.now()
		stx.Remember(ref, doc)
		stx.Set(ref, map[string]any{
			"stock":     doc.Stock,
			"updatedAt": doc.UpdatedAt,
		}, firestore.MergeAll)

		result = repositories.StockDeltaResult{Previous: int(previous), Current: int(doc.Stock)}
		return nil
	})
	if err != nil {
		return repositories.StockDeltaResult{}, pfirestore.WrapError("products.apply_stock_delta", err)
	}
	return result, nil
}

// load returns the product document, preferring the value already staged in the transaction.
func (r *ProductRepository) load(ctx context.Context, op, id string) (productDocument, error) {
	if id == "" {
		return productDocument{}, repositories.NewError(op, repositories.ErrorKindInvalidInput, "product id is required", nil)
	}
	ref, err := r.ref(ctx, id)
	if err != nil {
		return productDocument{}, err
	}
	stx, inTx := pfirestore.StagedTxFromContext(ctx)
	if inTx {
		if cached, ok := stx.Recall(ref); ok {
			return cached.(productDocument), nil
		}
	}

	snap, err := get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return productDocument{}, notFound(op, "product "+id+" not found")
		}
		return productDocument{}, pfirestore.WrapError(op, err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return productDocument{}, fmt.Errorf("firestore products decode %s: %w", id, err)
	}
	if inTx {
		stx.Remember(ref, doc)
	}
	return doc, nil
}

func (r *ProductRepository) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return r.store.doc(ctx, productsCollection+"/"+id)
}

type ledgerDocument struct {
	ProductID       string    `firestore:"productId"`
	PreviousStock   int64     `firestore:"previousStock"`
	NewStock        int64     `firestore:"newStock"`
	Change          int64     `firestore:"change"`
	RequestedChange int64     `firestore:"requestedChange"`
	Reason          string    `firestore:"reason"`
	OrderID         *string   `firestore:"orderId,omitempty"`
	ActorID         *string   `firestore:"actorId,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

func newLedgerDocument(entry domain.StockLedgerEntry) ledgerDocument {
	return ledgerDocument{
		ProductID:       entry.ProductID,
		PreviousStock:   int64(entry.PreviousStock),
		NewStock:        int64(entry.NewStock),
		Change:          int64(entry.Change),
		RequestedChange: int64(entry.RequestedChange),
		Reason:          entry.Reason,
		OrderID:         entry.OrderID,
		ActorID:         entry.ActorID,
		CreatedAt:       entry.CreatedAt.UTC(),
	}
}

func (d ledgerDocument) toDomain(id string) domain.StockLedgerEntry {
	return domain.StockLedgerEntry{
		ID:              id,
		ProductID:       d.ProductID,
		PreviousStock:   int(d.PreviousStock),
		NewStock:        int(d.NewStock),
		Change:          int(d.Change),
		RequestedChange: int(d.RequestedChange),
		Reason:          d.Reason,
		OrderID:         d.OrderID,
		ActorID:         d.ActorID,
		CreatedAt:       d.CreatedAt,
	}
}

// StockLedgerRepository stores ledger entries under products/{id}/stockLedger.
type StockLedgerRepository struct {
	store *Store
}

func (r *StockLedgerRepository) Append(ctx context.Context, entry domain.StockLedgerEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return repositories.NewError("stock_ledger.append", repositories.ErrorKindInvalidInput, "entry id is required", nil)
	}
	productID := strings.TrimSpace(entry.ProductID)
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		if _, err := r.store.products.load(ctx, "stock_ledger.append", productID); err != nil {
			var repoErr *repositories.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return invalidReference("stock_ledger.append", "product "+productID+" does not exist")
			}
			return err
		}
		ref, err := r.store.doc(ctx, ledgerPath(productID)+"/"+entry.ID)
		if err != nil {
			return err
		}
		stx.Create(ref, newLedgerDocument(entry))
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("stock_ledger.append", err)
	}
	return nil
}

// ListByProduct returns entries newest first.
func (r *StockLedgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockLedgerEntry], error) {
	productID = strings.TrimSpace(productID)
	client, err := r.store.client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockLedgerEntry]{}, err
	}

	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	query := client.Collection(ledgerPath(productID)).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if pager.PageToken != "" {
		keyset, err := pagination.DecodeKeyset(pager.PageToken)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, repositories.NewError("stock_ledger.list", repositories.ErrorKindInvalidInput, "invalid page token", err)
		}
		query = query.StartAfter(keyset.CreatedAt, keyset.ID)
	}

	iter := query.Limit(size + 1).Documents(ctx)
	defer iter.Stop()

	var entries []domain.StockLedgerEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, pfirestore.WrapError("stock_ledger.list", err)
		}
		var doc ledgerDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("firestore stock ledger decode %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	page := domain.CursorPage[domain.StockLedgerEntry]{Items: entries}
	if len(entries) > size {
		page.Items = entries[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeKeyset(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.StockLedgerEntry]{}, fmt.Errorf("stock_ledger.list: %w", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

func ledgerPath(productID string) string {
	return productsCollection + "/" + productID + "/" + ledgerSubcollection
}
