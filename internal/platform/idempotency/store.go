package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultTTL is how long a completed key keeps replaying its response.
const DefaultTTL = 24 * time.Hour

// Status is the stored state of a key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do after Reserve.
type ReservationState int

const (
	// ReservationStateNew hands the key to the caller, which must run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted carries a stored response to replay.
	ReservationStateCompleted
	// ReservationStatePending means an earlier request with the key has not finished.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is one stored key. Key is the caller-scoped key, not the storage id.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is what a handler wrote, as kept for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store is the persistence behind Middleware. Implementations exist for memory, Firestore and
// Postgres; each must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused with a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// completeRecord stamps resp onto record and restarts its expiry from now.
func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayableHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = slices.Clone(resp.Body)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

// resolve decides the outcome for a live record found under the key.
func resolve(record Record, fingerprint string) (Reservation, error) {
	switch {
	case record.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case record.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// documentID is the storage id of a scoped key. Hashing keeps ids a fixed length and free of
// characters Firestore rejects in document names.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and per-response headers that must not be replayed
var volatileHeaders = []string{
	"Connection", "Content-Length", "Date", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "X-Request-Id",
	"X-Cloud-Trace-Context", "Traceparent",
}

func replayableHeaders(header http.Header) map[string][]string {
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if slices.Contains(volatileHeaders, name) {
			continue
		}
		kept[name] = slices.Clone(values)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = slices.Clone(vals)
	}
	return header
}
