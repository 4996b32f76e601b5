package logging

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach a log sink.
var secretKeys = map[string]bool{
	"api_key":        true,
	"api_token":      true,
	"token":          true,
	"storage_token":  true,
	"authorization":  true,
	"password":       true,
	"redis_password": true,
}

// redactHandler masks credentials before records reach the formatting
// handler. DSN-shaped values keep their host but lose the password.
type redactHandler struct {
	next slog.Handler
}

func newRedactHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &redactHandler{next: next}
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = redactAttr(attr)
	}
	return &redactHandler{next: h.next.WithAttrs(clean)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		children := value.Group()
		clean := make([]any, len(children))
		for i, child := range children {
			clean[i] = redactAttr(child)
		}
		return slog.Group(attr.Key, clean...)
	}
	key := strings.ToLower(attr.Key)
	if secretKeys[key] {
		return slog.String(attr.Key, redacted)
	}
	if strings.HasSuffix(key, "_dsn") && value.Kind() == slog.KindString {
		return slog.String(attr.Key, redactDSN(value.String()))
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func redactDSN(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		if strings.Contains(raw, "password=") {
			return redacted
		}
		return raw
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	}
	return parsed.String()
}
