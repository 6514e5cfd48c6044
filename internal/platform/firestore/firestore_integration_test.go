//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore/firestoretest"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

type stockDoc struct {
	ProductID string `firestore:"productId"`
	Stock     int    `firestore:"stock"`
}

func TestProviderTransactionsAgainstEmulator(t *testing.T) {
	provider := firestoretest.Provider(t, "provider-test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	ref := client.Doc("products/prod_lime")

	t.Run("staged create is recalled before commit", func(t *testing.T) {
		err := provider.RunStagedTransaction(ctx, func(ctx context.Context) error {
			stx, ok := pfirestore.StagedTxFromContext(ctx)
			if !ok {
				return errors.New("no staged transaction on context")
			}
			if _, err := stx.Get(ref); status.Code(err) != codes.NotFound {
				return fmt.Errorf("expected missing product, got %v", err)
			}
			doc := stockDoc{ProductID: "prod_lime", Stock: 4}
			stx.Create(ref, doc)
			stx.Remember(ref, doc)
			if got, ok := stx.Recall(ref); !ok || got.(stockDoc).Stock != 4 {
				return fmt.Errorf("staged value not recalled: %v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("staged transaction: %v", err)
		}
	})

	t.Run("read modify write", func(t *testing.T) {
		err := provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var doc stockDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			doc.Stock--
			return tx.Set(ref, doc)
		})
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		snap, err := ref.Get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var doc stockDoc
		if err := snap.DataTo(&doc); err != nil || doc.Stock != 3 {
			t.Fatalf("expected stock 3, got %+v (%v)", doc, err)
		}
	})

	t.Run("not found is classified", func(t *testing.T) {
		_, err := client.Doc("products/missing").Get(ctx)
		var repoErr *repositories.Error
		if !errors.As(pfirestore.WrapError("products.get", err), &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, stop := context.WithCancel(context.Background())
		stop()
		err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
