package logger

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// botTokenPattern matches Telegram bot tokens ("123456:AA...").
var botTokenPattern = regexp.MustCompile(`\b\d{6,}:[A-Za-z0-9_-]{30,}\b`)

// keyValuePassword matches the password of a key/value DSN ("password=...").
var keyValuePassword = regexp.MustCompile(`(?i)(password=)\S+`)

// RedactingHandler masks sensitive log attributes: values under sensitive
// keys, bot tokens and passwords embedded in URLs or DSNs.
type RedactingHandler struct {
	inner slog.Handler
	keys  map[string]struct{}
}

// NewRedactingHandler wraps handler with redaction of sensitive fields.
func NewRedactingHandler(inner slog.Handler, sensitive []string) *RedactingHandler {
	m := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &RedactingHandler{inner: inner, keys: m}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.sanitize(a))
		return true
	})
	return h.inner.Handle(ctx, nr)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.sanitize(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean), keys: h.keys}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), keys: h.keys}
}

func (h *RedactingHandler) sanitize(a slog.Attr) slog.Attr {
	if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, ga := range group {
			clean[i] = h.sanitize(ga)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindString:
		return slog.String(a.Key, RedactString(v.String()))
	}
	if err, ok := v.Any().(error); ok {
		return slog.String(a.Key, RedactString(err.Error()))
	}
	return a
}

// RedactString masks bot tokens and URL passwords inside s.
func RedactString(s string) string {
	s = botTokenPattern.ReplaceAllString(s, redacted)
	s = keyValuePassword.ReplaceAllString(s, "${1}"+redacted)
	if !strings.Contains(s, "://") || !strings.Contains(s, "@") {
		return s
	}

	fields := strings.Fields(s)
	changed := false
	for i, f := range fields {
		u, err := url.Parse(f)
		if err != nil || u.User == nil {
			continue
		}
		if _, ok := u.User.Password(); ok {
			fields[i] = u.Redacted()
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(fields, " ")
}
