package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// streamHandler publishes every handled record to a StreamHub before passing
// it on. Logger attrs are remembered so published events carry the job id and
// component bound with With.
type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	bound  []slog.Attr
	prefix string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	for _, attr := range h.bound {
		applyStreamAttr(&evt, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		applyStreamAttr(&evt, h.prefix, attr)
		return true
	})
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(h.bound)+len(attrs))
	bound = append(bound, h.bound...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		bound = append(bound, attr)
	}
	return &streamHandler{next: h.next.WithAttrs(attrs), hub: h.hub, bound: bound, prefix: h.prefix}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub, bound: h.bound, prefix: h.prefix + name + "."}
}

// applyStreamAttr lifts the well-known keys into LogEvent fields. Later attrs
// win, so call-site values override logger-bound ones.
func applyStreamAttr(evt *LogEvent, prefix string, attr slog.Attr) {
	if attr.Key == "" {
		return
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		for _, child := range value.Group() {
			applyStreamAttr(evt, prefix+attr.Key+".", child)
		}
		return
	}
	key := prefix + strings.TrimSpace(attr.Key)
	text := plainValue(value)
	switch key {
	case FieldJobID:
		evt.JobID = text
	case FieldCorrelationID:
		evt.CorrelationID = text
	case FieldComponent:
		evt.Component = text
	default:
		if evt.Fields == nil {
			evt.Fields = make(map[string]string)
		}
		evt.Fields[key] = text
	}
}

// plainValue renders a value without the quoting the console format applies.
func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return formatValue(v)
	}
}
