package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

// counterDocument lives at counters/{id}. A missing document is a counter at zero.
type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// advance applies one increment. A zero step falls back to the stored step, then to 1.
func (d counterDocument) advance(id string, step int64) (counterDocument, error) {
	if step <= 0 {
		step = max(d.Step, 1)
	}
	next := d.CurrentValue + step
	if d.MaxValue != nil && next > *d.MaxValue {
		return d, repositories.NewError("counters.next", repositories.ErrorKindExhausted,
			fmt.Sprintf("counter %s exceeded max value %d", id, *d.MaxValue), nil)
	}
	d.CurrentValue, d.Step = next, step
	return d, nil
}

// CounterRepository hands out sequence values, such as order numbers, from Firestore. Inside
// RunInTx the increment commits or rolls back with the rest of the order.
type CounterRepository struct {
	store *Store
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	switch {
	case id == "":
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	case step < 0:
		return 0, repositories.NewError("counters.next", repositories.ErrorKindInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var value int64
	err := r.store.inTx(ctx, func(ctx context.Context, stx *pfirestore.StagedTx) error {
		ref, err := r.store.doc(ctx, countersCollection+"/"+id)
		if err != nil {
			return err
		}
		current, err := r.load(stx, ref)
		if err != nil {
			return err
		}
		next, err := current.advance(id, step)
		if err != nil {
			return err
		}
		next.UpdatedAt = r.store.now()
		stx.Remember(ref, next)
		stx.Set(ref, next)
		value = next.CurrentValue
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return value, nil
}

// load prefers a value staged earlier in the same transaction so two increments in one order
// see each other.
func (r *CounterRepository) load(stx *pfirestore.StagedTx, ref *firestore.DocumentRef) (counterDocument, error) {
	if staged, ok := stx.Recall(ref); ok {
		return staged.(counterDocument), nil
	}
	var doc counterDocument
	snap, err := stx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := snap.DataTo(&doc); err != nil {
		return doc, fmt.Errorf("firestore counters decode %s: %w", ref.ID, err)
	}
	return doc, nil
}

// Configure merges the set fields of cfg into the counter without touching the others.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewError("counters.configure", repositories.ErrorKindInvalidInput, "counter id is required", nil)
	}
	ref, err := r.store.doc(ctx, countersCollection+"/"+id)
	if err != nil {
		return err
	}

	fields := map[string]any{"updatedAt": r.store.now()}
	if cfg.Step > 0 {
		fields["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		fields["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		fields["currentValue"] = *cfg.InitialValue
	}

	if stx, ok := pfirestore.StagedTxFromContext(ctx); ok {
		stx.Set(ref, fields, firestore.MergeAll)
		return nil
	}
	if _, err := ref.Set(ctx, fields, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
