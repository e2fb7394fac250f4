package logging

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys marks attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"key":           true,
	"authorization": true,
	"database_url":  true,
}

// RedactingHandler masks credential-bearing attributes before they
// reach the underlying handler. Keys are matched case-insensitively;
// values keep a four-character prefix so operators can still tell keys
// apart.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps a handler with credential redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if sensitiveKeys[key] || strings.HasSuffix(key, "_api_key") || strings.HasSuffix(key, "_token") {
		return slog.String(a.Key, Mask(a.Value.String()))
	}
	return a
}

// Mask hides all but the first four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", 8)
}
