package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Subscription is a single observer's bounded event queue.
type Subscription struct {
	id          string
	label       string
	kinds       map[Kind]struct{}
	capacity    int
	connectedAt time.Time
	startSeq    uint64

	mu     sync.Mutex
	queue  []Event
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func (s *Subscription) ID() string { return s.id }

// Done is closed once the subscription has been removed from the hub.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Connected builds the transport-level greeting sent before any hub event. Its sequence is the
// last one issued before the subscriber joined.
func (s *Subscription) Connected() Event {
	return Event{
		Sequence:   s.startSeq,
		Kind:       KindConnected,
		OccurredAt: s.connectedAt,
		Payload: map[string]any{
			"subscriptionId": s.id,
		},
	}
}

// Next blocks until an event is queued, the subscription is closed, or ctx ends. Events queued
// before close are still delivered.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) wants(kind Kind) bool {
	if kind == KindHeartbeat || len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// enqueue appends event, evicting the oldest pending one when full. It reports whether an event
// was dropped.
func (s *Subscription) enqueue(event Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	if len(s.queue) >= s.capacity {
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		dropped = true
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}
