package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type stagedTxKey struct{}

// StagedTx wraps a Firestore transaction and holds writes back until the transaction function
// returns. Firestore rejects reads issued after a write, so staging lets callers interleave reads
// and writes freely. Values remembered via Remember are visible to later reads in the same attempt.
type StagedTx struct {
	tx     *firestore.Transaction
	order  []string
	writes map[string]func(*firestore.Transaction) error
	values map[string]any
}

func newStagedTx(tx *firestore.Transaction) *StagedTx {
	return &StagedTx{
		tx:     tx,
		writes: make(map[string]func(*firestore.Transaction) error),
		values: make(map[string]any),
	}
}

// StagedTxFromContext returns the staged transaction bound to ctx, if any.
func StagedTxFromContext(ctx context.Context) (*StagedTx, bool) {
	if ctx == nil {
		return nil, false
	}
	stx, ok := ctx.Value(stagedTxKey{}).(*StagedTx)
	return stx, ok && stx != nil
}

// Get reads ref inside the transaction.
func (s *StagedTx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return s.tx.Get(ref)
}

// Documents runs query inside the transaction.
func (s *StagedTx) Documents(query firestore.Queryer) *firestore.DocumentIterator {
	return s.tx.Documents(query)
}

// Remember caches the current value of the document at ref.
func (s *StagedTx) Remember(ref *firestore.DocumentRef, value any) {
	s.values[ref.Path] = value
}

// Recall returns the value cached for ref during this attempt.
func (s *StagedTx) Recall(ref *firestore.DocumentRef) (any, bool) {
	value, ok := s.values[ref.Path]
	return value, ok
}

// Create stages a create. It fails at commit if the document already exists.
func (s *StagedTx) Create(ref *firestore.DocumentRef, data any) {
	s.stage(ref, func(tx *firestore.Transaction) error {
		return tx.Create(ref, data)
	})
}

// Set stages a set. A later write to the same document replaces an earlier staged one.
func (s *StagedTx) Set(ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) {
	s.stage(ref, func(tx *firestore.Transaction) error {
		return tx.Set(ref, data, opts...)
	})
}

// Delete stages a delete.
func (s *StagedTx) Delete(ref *firestore.DocumentRef, opts ...firestore.Precondition) {
	s.stage(ref, func(tx *firestore.Transaction) error {
		return tx.Delete(ref, opts...)
	})
}

func (s *StagedTx) stage(ref *firestore.DocumentRef, write func(*firestore.Transaction) error) {
	if _, exists := s.writes[ref.Path]; !exists {
		s.order = append(s.order, ref.Path)
	}
	s.writes[ref.Path] = write
}

func (s *StagedTx) flush() error {
	for _, path := range s.order {
		if err := s.writes[path](s.tx); err != nil {
			return err
		}
	}
	return nil
}

// RunStagedTransaction runs fn inside a transaction with a StagedTx bound to the context handed
// to fn. Staged writes are applied after fn returns nil. Nested calls reuse the outer transaction.
func RunStagedTransaction(ctx context.Context, client *firestore.Client, fn func(ctx context.Context) error, opts ...TxOption) error {
	if _, ok := StagedTxFromContext(ctx); ok {
		return fn(ctx)
	}
	return RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		stx := newStagedTx(tx)
		if err := fn(context.WithValue(ctx, stagedTxKey{}, stx)); err != nil {
			return err
		}
		return stx.flush()
	}, opts...)
}

// RunStagedTransaction runs fn through RunStagedTransaction using the provider's client.
func (p *Provider) RunStagedTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if _, ok := StagedTxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunStagedTransaction(ctx, client, fn, p.txOptions(opts)...)
}
