package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	reserveSQL = `
INSERT INTO idempotency_keys (id, request_key, fingerprint, status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, 'pending', $4, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    request_key = EXCLUDED.request_key,
    fingerprint = EXCLUDED.fingerprint,
    status = 'pending',
    response_status = 0,
    response_headers = NULL,
    response_body = NULL,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
RETURNING id`

	selectRecordSQL = `
SELECT request_key, fingerprint, status, response_status, response_headers, response_body,
       created_at, updated_at, expires_at
FROM idempotency_keys WHERE id = $1`

	saveResponseSQL = `
INSERT INTO idempotency_keys (id, request_key, fingerprint, status, response_status, response_headers,
                              response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, 'completed', $4, $5, $6, $7, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    status = 'completed',
    response_status = EXCLUDED.response_status,
    response_headers = EXCLUDED.response_headers,
    response_body = EXCLUDED.response_body,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`

	releaseSQL = `DELETE FROM idempotency_keys WHERE id = $1 AND fingerprint = $2`

	cleanupSQL = `
DELETE FROM idempotency_keys
WHERE id IN (SELECT id FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2)`
)

// PostgresStore implements Store on the idempotency_keys table created by the postgres store
// migration.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	id := documentID(key)

	var inserted string
	err := s.pool.QueryRow(ctx, reserveSQL, id, key, fingerprint, now, now.Add(ttl)).Scan(&inserted)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: pendingRecord(key, fingerprint, now, ttl)}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}

	record, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	return resolve(record, fingerprint)
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	record := completeRecord(Record{Key: key, Fingerprint: fingerprint}, resp, now, normalizeTTL(ttl))

	tag, err := s.pool.Exec(ctx, saveResponseSQL,
		documentID(key), key, fingerprint,
		record.ResponseStatus, record.ResponseHeaders, record.ResponseBody,
		now, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	if _, err := s.pool.Exec(ctx, releaseSQL, documentID(key), fingerprint); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	tag, err := s.pool.Exec(ctx, cleanupSQL, now.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, error) {
	var (
		record Record
		status string
	)
	err := s.pool.QueryRow(ctx, selectRecordSQL, id).Scan(
		&record.Key, &record.Fingerprint, &status, &record.ResponseStatus,
		&record.ResponseHeaders, &record.ResponseBody,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if err != nil {
		// A concurrent Release can delete the row between the insert attempt and this read.
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("idempotency: key %s released concurrently: %w", id, err)
		}
		return Record{}, fmt.Errorf("idempotency: load: %w", err)
	}
	record.Status = Status(status)
	return record, nil
}
