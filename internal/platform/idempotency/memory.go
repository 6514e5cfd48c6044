package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store behind the memory driver. Keys do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id, now := documentID(key), now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.keys[id]; ok && !existing.expired(now) {
		return resolve(existing, fingerprint)
	}
	fresh := pendingRecord(key, fingerprint, now, normalizeTTL(ttl))
	s.keys[id] = fresh
	return Reservation{State: ReservationStateNew, Record: fresh}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := documentID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.keys[id]
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.keys[id] = completeRecord(record, resp, now.UTC(), normalizeTTL(ttl))
	return nil
}

// Release forgets the key unless another fingerprint has taken it over.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := documentID(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.keys[id]; ok && record.Fingerprint == fingerprint {
		delete(s.keys, id)
	}
	return nil
}

// CleanupExpired drops at most limit expired keys; limit <= 0 means no bound.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.keys {
		if limit > 0 && removed == limit {
			break
		}
		if record.expired(now) {
			delete(s.keys, id)
			removed++
		}
	}
	return removed, nil
}

// Len counts held keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
