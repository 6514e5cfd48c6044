package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used by the API. Field names follow Cloud Logging's structured
// payload conventions so severity and timestamps are picked up without a parser. LOG_LEVEL picks
// the minimum level and defaults to info.
func NewLogger() (*zap.Logger, error) {
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "severity",
		TimeKey:        "timestamp",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    severityEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), parseLevel(os.Getenv("LOG_LEVEL")))
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

func parseLevel(raw string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return zapcore.InfoLevel
	}
	return level
}

// severityEncoder writes Cloud Logging severities; zap's dpanic and panic both map to CRITICAL.
func severityEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("EMERGENCY")
	default:
		enc.AppendString(strings.ToUpper(level.String()))
	}
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger turns zap into the func the order and inventory services log through. Entries go
// to the request logger when ctx carries one. Events ending in ".failed" are warnings.
func EventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		target := logger
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			target = scoped
		}

		zf := []zap.Field{zap.String("event", event)}
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			zf = append(zf, zap.Any(key, fields[key]))
		}
		if strings.HasSuffix(event, ".failed") {
			target.Warn(event, zf...)
			return
		}
		target.Info(event, zf...)
	}
}
