package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Seed files and record commands log document payloads; past a point the
// payload stops being useful in a log line. Attrs under these keys are
// replaced with a size summary, and any other oversized string attr is cut
// at a rune boundary.
const maxAttrLen = 256

var documentFields = map[string]struct{}{
	"doc":      {},
	"document": {},
	"patch":    {},
	"record":   {},
}

type TruncatingHandler struct {
	inner slog.Handler
}

func NewTruncatingHandler(inner slog.Handler) *TruncatingHandler {
	return &TruncatingHandler{inner: inner}
}

func (h *TruncatingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TruncatingHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fallback := slog.NewRecord(record.Time, slog.LevelError, "truncation handler panic recovered", record.PC)
			fallback.AddAttrs(slog.String("panic", fmt.Sprint(r)))
			err = h.inner.Handle(ctx, fallback)
		}
	}()

	truncated := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		truncated.AddAttrs(truncAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, truncated)
}

func (h *TruncatingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	truncated := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		truncated = append(truncated, truncAttr(attr))
	}
	return &TruncatingHandler{inner: h.inner.WithAttrs(truncated)}
}

func (h *TruncatingHandler) WithGroup(name string) slog.Handler {
	return &TruncatingHandler{inner: h.inner.WithGroup(name)}
}

func truncAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		truncated := make([]slog.Attr, 0, len(group))
		for _, nested := range group {
			truncated = append(truncated, truncAttr(nested))
		}
		return slog.Attr{
			Key:   attr.Key,
			Value: slog.GroupValue(truncated...),
		}
	}

	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()

	key := strings.ToLower(attr.Key)
	if _, ok := documentFields[key]; ok && len(value) > maxAttrLen {
		return slog.String(attr.Key, fmt.Sprintf("(%d bytes)", len(value)))
	}
	if len(value) > maxAttrLen {
		return slog.String(attr.Key, cutAtRune(value, maxAttrLen)+"...")
	}
	return attr
}

func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
