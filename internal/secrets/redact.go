package secrets

import (
	"context"
	"log/slog"
	"strings"
)

const placeholder = "***REDACTED***"

// Redactor is a slog.Handler that scrubs known secret values from
// messages and string attributes before delegating to the wrapped
// handler. Empty values are ignored.
type Redactor struct {
	inner  slog.Handler
	values []string
}

// NewRedactor wraps a handler so the given values never reach the log.
func NewRedactor(inner slog.Handler, values ...string) *Redactor {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return &Redactor{inner: inner, values: kept}
}

func (r *Redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return r.inner.Enabled(ctx, level)
}

func (r *Redactor) Handle(ctx context.Context, record slog.Record) error {
	if len(r.values) == 0 {
		return r.inner.Handle(ctx, record)
	}

	scrubbed := slog.NewRecord(record.Time, record.Level, r.scrub(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		scrubbed.AddAttrs(r.scrubAttr(a))
		return true
	})
	return r.inner.Handle(ctx, scrubbed)
}

func (r *Redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	for i, a := range attrs {
		attrs[i] = r.scrubAttr(a)
	}
	return &Redactor{inner: r.inner.WithAttrs(attrs), values: r.values}
}

func (r *Redactor) WithGroup(name string) slog.Handler {
	return &Redactor{inner: r.inner.WithGroup(name), values: r.values}
}

func (r *Redactor) scrubAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, r.scrub(a.Value.String()))
	}
	return a
}

func (r *Redactor) scrub(s string) string {
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
