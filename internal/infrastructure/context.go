package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NewTraceID returns a random id used to correlate one API request or
// CLI invocation across log lines
func NewTraceID() string {
	return uuid.New().String()
}

// EnsureTraceID returns ctx carrying a trace id, minting one when absent
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// LoggerWithContext returns logger with ctx's trace id attached. Loggers
// built by NewLogger already add it to every record and come back as is.
func LoggerWithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	if _, ok := logger.Handler().(*traceHandler); ok {
		return logger
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		return logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
