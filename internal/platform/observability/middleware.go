package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/requestctx"
)

const idempotencyHeader = "Idempotency-Key"

// InjectLoggerMiddleware seeds every request context with logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one access log entry per request. Event streams get a single
// "stream closed" entry when the subscriber disconnects instead of a completion entry.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context()).With(requestFields(r, projectID)...)
			ctx := requestctx.WithLogger(r.Context(), logger)
			r = r.WithContext(ctx)

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			completed := false
			defer func() {
				status := rec.status
				if !completed && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				annotateSpan(trace.SpanFromContext(ctx), r, status)

				fields := []zap.Field{
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", rec.bytes),
				}
				switch {
				case completed && rec.Streaming():
					logger.Info("stream closed", append(fields, zap.Int("flushes", rec.flushes))...)
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 JSON error and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestFields(r *http.Request, projectID string) []zap.Field {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", clean(r.Method, 10)),
		zap.String("path", clean(r.URL.Path, 180)),
	}
	if info, ok := requestctx.Trace(ctx); ok && info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if project := firstNonEmpty(info.ProjectID, projectID); project != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", project, info.TraceID)))
		}
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		fields = append(fields, zap.String("user_id", clean(identity.UID, 64)))
	}
	if key := r.Header.Get(idempotencyHeader); key != "" {
		fields = append(fields, zap.Bool("idempotent", true))
	}
	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		fields = append(fields, zap.String("remote_ip", clean(host, 64)))
	}
	return fields
}

// annotateSpan records the final route and status on the server span. The route is resolved only
// after chi has matched, which is why this runs on the way out.
func annotateSpan(span trace.Span, r *http.Request, status int) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	if pattern := routePattern(r); pattern != "" {
		span.SetAttributes(semconv.HTTPRoute(clean(pattern, 180)))
	}
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// clean strips control characters and truncates to limit runes.
func clean(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, ch := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(ch) {
			continue
		}
		b.WriteRune(ch)
		n++
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// responseRecorder tracks status, size and flushes. Unwrap lets http.ResponseController reach the
// underlying writer for event streams.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	flushes     int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	r.flushes++
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Streaming reports whether the handler answered with text/event-stream.
func (r *responseRecorder) Streaming() bool {
	return strings.HasPrefix(r.Header().Get("Content-Type"), "text/event-stream")
}
