package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// reconnectLimiter bounds how often one identity may open an event stream. A denied caller gets
// the wait until its next allowed attempt.
type reconnectLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// bucketLimiter gives every identity a token bucket holding limit tokens that refills over window,
// so a client may burst up to limit reconnects and then one per window/limit.
type bucketLimiter struct {
	every  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newBucketLimiter(limit int, window time.Duration, clock func() time.Time) reconnectLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &bucketLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *bucketLimiter) Allow(key string) (bool, time.Duration) {
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.evictIdle(now)
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// evictIdle drops buckets untouched for a full window; they would be full again anyway.
func (l *bucketLimiter) evictIdle(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, key)
		}
	}
}
