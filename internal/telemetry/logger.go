package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"github.com/szaher/agentbus/internal/secrets"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// NewLogger creates a structured JSON logger. Any redact values are
// scrubbed from records before they are written, so connection
// credentials never reach the log.
func NewLogger(w io.Writer, level slog.Level, redact ...string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	if len(redact) > 0 {
		handler = secrets.NewRedactor(handler, redact...)
	}
	return slog.New(handler)
}

// WithCorrelationID adds a correlation ID to the context.
// If id is empty, a random one is generated.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		id = hex.EncodeToString(b)
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// SessionLogger returns a logger with session-scoped fields.
func SessionLogger(logger *slog.Logger, ctx context.Context, sessionID string) *slog.Logger {
	attrs := []any{
		slog.String("session_id", sessionID),
	}
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	return logger.With(attrs...)
}
