package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
)

const (
	defaultHeaderName   = "Idempotency-Key"
	replayHeaderName    = "X-Idempotent-Replay"
	defaultMaxKeyLength = 255
	defaultMaxBodyBytes = 1 << 20
	anonymousScope      = "anonymous"
)

// MiddlewareOption tunes the guard built by Middleware.
type MiddlewareOption func(*guard)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a completed key stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods limits the guard to the given methods. Everything else passes straight through.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		var guarded []string
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" && !slices.Contains(guarded, m) {
				guarded = append(guarded, m)
			}
		}
		if len(guarded) > 0 {
			g.methods = guarded
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithOptionalKey serves requests that carry no key without any replay protection.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

func WithMaxKeyLength(n int) MiddlewareOption {
	return func(g *guard) {
		if n > 0 {
			g.maxKey = n
		}
	}
}

// WithMaxBodyBytes bounds how much of a keyed request body is buffered for fingerprinting.
func WithMaxBodyBytes(n int64) MiddlewareOption {
	return func(g *guard) {
		if n > 0 {
			g.maxBody = n
		}
	}
}

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	methods  []string
	now      func() time.Time
	logger   *zap.Logger
	optional bool
	maxKey   int
	maxBody  int64
}

// Middleware makes keyed mutations safe to retry. The first request under a key runs the handler
// and its response is stored; repeats with the same body get the stored response back with
// X-Idempotent-Replay set. Keys are scoped to the authenticated caller. Server errors are never
// stored so the same key can be retried.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:   store,
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		now:     time.Now,
		logger:  zap.NewNop(),
		maxKey:  defaultMaxKeyLength,
		maxBody: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.Named("idempotency")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(next, w, r)
		})
	}
}

func (g *guard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	if !slices.Contains(g.methods, r.Method) {
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		reject(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}
	if len(key) > g.maxKey {
		reject(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := g.bufferBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reject(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds limit")
			return
		}
		reject(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	caller := callerScope(r.Context())
	scoped := scopedKey(key, caller)
	fingerprint := requestFingerprint(r, body, caller)
	log := g.logger.With(zap.String("key", key), zap.String("caller", caller))

	reservation, err := g.store.Reserve(r.Context(), scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		reject(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		log.Error("reserve key failed", zap.Error(err))
		reject(w, r, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		reject(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	case ReservationStateNew:
	default:
		reject(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
		return
	}

	buf := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buf, r)

	// settle the key even if the client hung up while the handler ran
	settleCtx := context.WithoutCancel(r.Context())
	if buf.code() >= http.StatusInternalServerError {
		if err := g.store.Release(settleCtx, scoped, fingerprint); err != nil {
			log.Warn("release after server error failed", zap.Error(err))
		}
		g.flush(log, buf, w)
		return
	}

	saved := Response{Status: buf.code(), Headers: buf.header.Clone(), Body: buf.payload()}
	if err := g.store.SaveResponse(settleCtx, scoped, fingerprint, saved, g.now().UTC(), g.ttl); err != nil {
		log.Error("persist response failed", zap.Error(err))
		if err := g.store.Release(settleCtx, scoped, fingerprint); err != nil {
			log.Warn("release after save failure failed", zap.Error(err))
		}
		reject(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(log, buf, w)
}

// bufferBody reads the body once for the fingerprint and hands the handler a fresh reader.
func (g *guard) bufferBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func (g *guard) flush(log *zap.Logger, buf *bufferedResponse, w http.ResponseWriter) {
	if err := buf.writeTo(w); err != nil {
		log.Debug("write buffered response failed", zap.Error(err))
	}
}

func callerScope(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return anonymousScope
}

func scopedKey(key, caller string) string {
	if caller = strings.TrimSpace(caller); caller == "" {
		caller = anonymousScope
	}
	return strings.TrimSpace(key) + "|" + caller
}

// requestFingerprint ties a key to the method, target, content type, caller and body it was
// first used with.
func requestFingerprint(r *http.Request, body []byte, caller string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	return sha256Hex([]byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		caller,
		bodyHash,
	}, "|")))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		dst[name] = values
	}
	dst.Set(replayHeaderName, "true")
	w.WriteHeader(cmpStatus(record.ResponseStatus))
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func cmpStatus(status int) int {
	if status <= 0 {
		return http.StatusOK
	}
	return status
}

// bufferedResponse holds the handler output until the key has been settled.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = cmpStatus(status)
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedResponse) code() int { return cmpStatus(b.status) }

func (b *bufferedResponse) payload() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return bytes.Clone(b.body.Bytes())
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = slices.Clone(values)
	}
	w.WriteHeader(b.code())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
