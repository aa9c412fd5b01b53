package observability

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/cooldialog/internal/config"
	"github.com/pitabwire/cooldialog/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. Levels are used as follows:
//   - error: state store or task failures, errors the user never saw
//   - warn:  failed round trips, circuit breaker changes
//   - info:  round trips, dialog start and end, launches
//   - debug: queue decisions, local scrolls, retries, redacted input
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// SessionLogger returns the context logger tagged with the round trip the
// context belongs to. Without a SessionContext it is LoggerFrom.
func SessionLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	sc := model.SessionContextFrom(ctx)
	if sc == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("dialog_id", sc.DialogID),
		zap.String("correlation_id", sc.CorrelationID),
	}
	for _, f := range [][2]string{
		{"procedure", sc.Procedure},
		{"index", sc.Index},
		{"dialect", sc.Dialect},
	} {
		if f[1] != "" {
			fields = append(fields, zap.String(f[0], f[1]))
		}
	}
	traceID := sc.TraceID
	if traceID == "" {
		traceID = TraceIDFromContext(ctx)
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveMarkers match control names case-insensitively by substring, so
// "PASSWORD" and "newPassword" are both hidden. Short names that occur inside
// ordinary words are matched whole.
var (
	sensitiveMarkers = []string{
		"password", "passwd", "secret", "token", "api_key", "apikey",
		"authorization", "credit_card",
	}
	sensitiveNames = []string{"pwd", "pin", "ssn", "iban", "cvv"}
)

// RedactBody copies procedure input for debug logging, hiding values whose
// control name looks sensitive. extra names are matched exactly, ignoring
// case. Nested objects and arrays are walked.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	exact := make(map[string]bool, len(sensitiveNames)+len(extra))
	for _, name := range slices.Concat(sensitiveNames, extra) {
		exact[strings.ToLower(name)] = true
	}
	return redactMap(body, exact)
}

func redactMap(m map[string]any, exact map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitive(k, exact) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, exact)
	}
	return out
}

func redactValue(v any, exact map[string]bool) any {
	switch v := v.(type) {
	case map[string]any:
		return redactMap(v, exact)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = redactValue(e, exact)
		}
		return out
	}
	return v
}

func isSensitive(name string, exact map[string]bool) bool {
	lower := strings.ToLower(name)
	if exact[lower] {
		return true
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
