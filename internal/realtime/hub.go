package realtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

const (
	metricNamespace = "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/realtime"

	// DefaultSubscriberBuffer bounds each subscriber queue.
	DefaultSubscriberBuffer = 64
	// DefaultHeartbeatInterval keeps idle SSE connections from being reaped by proxies.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Kind names the event pushed to observers.
type Kind string

const (
	KindConnected          Kind = "connected"
	KindOrderCreated       Kind = "order_created"
	KindOrderStatusChanged Kind = "order_status_changed"
	KindOrderAssigned      Kind = "order_assigned"
	KindOrderFeeUpdated    Kind = "order_fee_updated"
	KindOrderDeleted       Kind = "order_deleted"
	KindHeartbeat          Kind = "heartbeat"
)

// Kinds lists every kind a subscriber may filter on.
var Kinds = []Kind{
	KindConnected,
	KindOrderCreated,
	KindOrderStatusChanged,
	KindOrderAssigned,
	KindOrderFeeUpdated,
	KindOrderDeleted,
	KindHeartbeat,
}

var (
	// ErrHubClosed is returned when subscribing to a hub that has been shut down.
	ErrHubClosed = errors.New("realtime: hub closed")
	// ErrSubscriptionClosed is returned by Next once a subscription is closed and drained.
	ErrSubscriptionClosed = errors.New("realtime: subscription closed")
)

// Event is a single broadcast. Sequence increases monotonically across the hub.
type Event struct {
	Sequence   uint64
	Kind       Kind
	Payload    map[string]any
	OccurredAt time.Time
}

// IsKnownKind reports whether kind is one the hub emits.
func IsKnownKind(kind Kind) bool {
	for _, candidate := range Kinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

// Option customises a Hub.
type Option func(*hubConfig)

type hubConfig struct {
	buffer    int
	heartbeat time.Duration
	clock     func() time.Time
	logger    *zap.Logger
	meter     metric.Meter
}

// WithSubscriberBuffer overrides the per-subscriber queue capacity.
func WithSubscriberBuffer(size int) Option {
	return func(cfg *hubConfig) {
		if size > 0 {
			cfg.buffer = size
		}
	}
}

// WithHeartbeatInterval overrides how often Run emits heartbeat events.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(cfg *hubConfig) {
		if interval > 0 {
			cfg.heartbeat = interval
		}
	}
}

// WithClock injects the time source used for event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(cfg *hubConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *hubConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *hubConfig) {
		if m != nil {
			cfg.meter = m
		}
	}
}

// Hub fans events out to live subscribers. Publishing never blocks on a slow subscriber: when a
// queue is full the oldest pending event is discarded.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	publish sync.Mutex

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64

	buffer    int
	heartbeat time.Duration
	clock     func() time.Time
	logger    *zap.Logger

	subscriberGauge  metric.Int64UpDownCounter
	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
}

// NewHub constructs a hub with optional overrides.
func NewHub(opts ...Option) *Hub {
	cfg := hubConfig{
		buffer:    DefaultSubscriberBuffer,
		heartbeat: DefaultHeartbeatInterval,
		clock:     time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	h := &Hub{
		subs:      make(map[string]*Subscription),
		buffer:    cfg.buffer,
		heartbeat: cfg.heartbeat,
		clock:     cfg.clock,
		logger:    cfg.logger,
	}

	var err error
	h.subscriberGauge, err = cfg.meter.Int64UpDownCounter(
		"realtime.subscribers",
		metric.WithDescription("Number of live event stream subscribers"),
	)
	if err != nil {
		h.logger.Warn("realtime: unable to register subscriber metric", zap.Error(err))
	}
	h.publishedCounter, err = cfg.meter.Int64Counter(
		"realtime.events.published",
		metric.WithDescription("Count of events broadcast by the hub"),
	)
	if err != nil {
		h.logger.Warn("realtime: unable to register published metric", zap.Error(err))
	}
	h.droppedCounter, err = cfg.meter.Int64Counter(
		"realtime.events.dropped",
		metric.WithDescription("Count of events discarded from full subscriber queues"),
	)
	if err != nil {
		h.logger.Warn("realtime: unable to register dropped metric", zap.Error(err))
	}
	return h
}

// SubscribeOptions narrows what a subscriber receives.
type SubscribeOptions struct {
	// Kinds limits delivery to the listed kinds. Empty means every kind.
	Kinds []Kind
	// Buffer overrides the hub default queue capacity.
	Buffer int
	// Label is attached to log lines, e.g. "kitchen" or the caller's uid.
	Label string
}

// Subscribe registers a subscriber. The subscription is closed when ctx ends, when Unsubscribe is
// called, or when the hub closes.
func (h *Hub) Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	capacity := opts.Buffer
	if capacity <= 0 {
		capacity = h.buffer
	}

	sub := &Subscription{
		id:       ulid.Make().String(),
		label:    opts.Label,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if len(opts.Kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(opts.Kinds))
		for _, kind := range opts.Kinds {
			sub.kinds[kind] = struct{}{}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	sub.connectedAt = h.clock().UTC()
	sub.startSeq = h.seq.Load()
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if h.subscriberGauge != nil {
		h.subscriberGauge.Add(ctx, 1)
	}
	h.logger.Debug("realtime subscriber connected",
		zap.String("subscriptionId", sub.id),
		zap.String("label", sub.label),
		zap.Int("subscribers", count),
	)

	go func() {
		select {
		case <-ctx.Done():
			h.Unsubscribe(sub)
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Unsubscribe removes and closes sub. Calling it more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	sub.close()
	if !ok {
		return
	}
	if h.subscriberGauge != nil {
		h.subscriberGauge.Add(context.Background(), -1)
	}
	h.logger.Debug("realtime subscriber disconnected",
		zap.String("subscriptionId", sub.id),
		zap.String("label", sub.label),
		zap.Uint64("dropped", sub.Dropped()),
	)
}

// Publish stamps the next sequence number onto the event and enqueues it for every interested
// subscriber.
func (h *Hub) Publish(ctx context.Context, kind Kind, payload map[string]any) Event {
	if ctx == nil {
		ctx = context.Background()
	}

	h.publish.Lock()
	defer h.publish.Unlock()

	event := Event{
		Sequence:   h.seq.Add(1),
		Kind:       kind,
		Payload:    maps.Clone(payload),
		OccurredAt: h.clock().UTC(),
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	h.mu.RLock()
	var dropped int64
	for _, sub := range h.subs {
		if !sub.wants(kind) {
			continue
		}
		if sub.enqueue(event) {
			dropped++
		}
	}
	h.mu.RUnlock()

	h.published.Add(1)
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
	if h.publishedCounter != nil {
		h.publishedCounter.Add(ctx, 1, attrs)
	}
	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
		if h.droppedCounter != nil {
			h.droppedCounter.Add(ctx, dropped, attrs)
		}
		h.logger.Warn("realtime queue overflow",
			zap.String("kind", string(kind)),
			zap.Uint64("sequence", event.Sequence),
			zap.Int64("dropped", dropped),
		)
	}
	return event
}

// Run emits heartbeat events until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Publish(ctx, KindHeartbeat, map[string]any{"subscribers": h.SubscriberCount()})
		}
	}
}

// Close shuts the hub down and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	clear(h.subs)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if h.subscriberGauge != nil && len(subs) > 0 {
		h.subscriberGauge.Add(context.Background(), -int64(len(subs)))
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats is a point-in-time snapshot of hub counters.
type Stats struct {
	Subscribers  int
	Published    uint64
	Dropped      uint64
	LastSequence uint64
	Closed       bool
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Subscribers:  len(h.subs),
		Published:    h.published.Load(),
		Dropped:      h.dropped.Load(),
		LastSequence: h.seq.Load(),
		Closed:       h.closed,
	}
}

// HealthCheck reports broadcaster state for the system health report.
func (h *Hub) HealthCheck() domain.SystemHealthCheck {
	stats := h.Stats()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("%d subscribers, %d events, %d dropped", stats.Subscribers, stats.Published, stats.Dropped),
		CheckedAt: h.clock().UTC(),
	}
	if stats.Closed {
		check.Status = domain.HealthStatusError
		check.Error = ErrHubClosed.Error()
	}
	return check
}
