package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotencyKeys"
	defaultCleanupLimit = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithTxOptions forwards options to every transaction the store runs.
func WithTxOptions(opts ...pfirestore.TxOption) FirestoreOption {
	return func(store *FirestoreStore) {
		store.txOpts = append(store.txOpts, opts...)
	}
}

// FirestoreStore implements Store on a Firestore collection keyed by the digest of the scoped key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	txOpts     []pfirestore.TxOption
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore shares the order store's provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)

	var result Reservation
	err := s.inTx(ctx, "idempotency.reserve", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		existing, found, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		if !found || existing.expired(now) {
			record := pendingRecord(key, fingerprint, now, ttl)
			result = Reservation{State: ReservationStateNew, Record: record}
			return tx.Set(ref, newFirestoreRecord(record))
		}
		result, err = resolve(existing, fingerprint)
		return err
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)

	return s.inTx(ctx, "idempotency.save_response", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		record, found, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		if found && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		}
		return tx.Set(ref, newFirestoreRecord(completeRecord(record, resp, now, ttl)))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.inTx(ctx, "idempotency.release", key, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		record, found, err := readRecord(tx, ref)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes up to limit expired keys in one batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	bw.End()
	return len(docs), nil
}

func (s *FirestoreStore) inTx(ctx context.Context, op, key string, fn func(tx *firestore.Transaction, ref *firestore.DocumentRef) error) error {
	if s == nil || s.provider == nil {
		return errors.New("idempotency: firestore store is not configured")
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(s.collection).Doc(documentID(key))
	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		return fn(tx, ref)
	}, s.txOpts...)
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return pfirestore.WrapError(op, err)
}

func readRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return Record{}, false, err
	}
	return doc.toRecord(), true, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func newFirestoreRecord(record Record) firestoreRecord {
	return firestoreRecord{
		Key:             record.Key,
		Fingerprint:     record.Fingerprint,
		Status:          string(record.Status),
		ResponseStatus:  record.ResponseStatus,
		ResponseHeaders: record.ResponseHeaders,
		ResponseBody:    record.ResponseBody,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		ExpiresAt:       record.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
