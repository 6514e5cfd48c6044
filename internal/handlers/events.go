package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/requestctx"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/realtime"
)

const (
	defaultStreamReconnects = 30
	defaultStreamWindow     = time.Minute
)

// EventStreamHandlers serves the order event feed as server-sent events.
type EventStreamHandlers struct {
	authn   *auth.Authenticator
	hub     *realtime.Hub
	limiter reconnectLimiter
}

// EventStreamOption customises EventStreamHandlers.
type EventStreamOption func(*EventStreamHandlers)

// WithStreamReconnectLimit caps stream opens per identity within window. A non-positive limit
// disables the cap.
func WithStreamReconnectLimit(limit int, window time.Duration, clock func() time.Time) EventStreamOption {
	return func(h *EventStreamHandlers) {
		h.limiter = newBucketLimiter(limit, window, clock)
	}
}

func NewEventStreamHandlers(authn *auth.Authenticator, hub *realtime.Hub, opts ...EventStreamOption) *EventStreamHandlers {
	h := &EventStreamHandlers{
		authn:   authn,
		hub:     hub,
		limiter: newBucketLimiter(defaultStreamReconnects, defaultStreamWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers GET /events. Mount it outside any request timeout middleware.
func (h *EventStreamHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Authenticate())
	}
	r.With(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin, auth.RoleCourier)).Get("/", h.stream)
}

func (h *EventStreamHandlers) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.hub == nil {
		httpx.WriteError(ctx, w, httpx.NewError("realtime_unavailable", "event stream unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var kinds []realtime.Kind
	for _, raw := range parseFilterValues(r.URL.Query()["kinds"]) {
		kind := realtime.Kind(raw)
		if !realtime.IsKnownKind(kind) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown event kind %q", raw), http.StatusBadRequest))
			return
		}
		kinds = append(kinds, kind)
	}

	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.Allow(identity.UID); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many stream connections, retry later", http.StatusTooManyRequests))
			return
		}
	}

	sub, err := h.hub.Subscribe(ctx, realtime.SubscribeOptions{Kinds: kinds, Label: identity.UID})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("realtime_unavailable", "event stream unavailable", http.StatusServiceUnavailable))
		return
	}
	defer h.hub.Unsubscribe(sub)

	logger := requestctx.Logger(ctx).With(zap.String("subscriptionId", sub.ID()))
	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Debug("event stream: clear write deadline failed", zap.Error(err))
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, rc, sub.Connected()); err != nil {
		logger.Debug("event stream: greeting failed", zap.Error(err))
		return
	}

	for {
		event, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, realtime.ErrSubscriptionClosed) {
				logger.Debug("event stream: subscription ended", zap.Error(err))
			}
			return
		}
		if err := writeSSEEvent(w, rc, event); err != nil {
			logger.Info("event stream: write failed, dropping subscriber",
				zap.Error(err),
				zap.Uint64("dropped", sub.Dropped()),
			)
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, event realtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Sequence, event.Kind, data); err != nil {
		return err
	}
	return rc.Flush()
}
