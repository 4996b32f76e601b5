package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler sends each record to every sink whose level admits it.
type teeHandler struct {
	sinks []slog.Handler
}

func newTeeHandler(sinks ...slog.Handler) slog.Handler {
	kept := make([]slog.Handler, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	switch len(kept) {
	case 0:
		return NoopHandler{}
	case 1:
		return kept[0]
	}
	return &teeHandler{sinks: kept}
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range t.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range t.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		// Handlers may retain the record, so each sink gets its own copy.
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t *teeHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	sinks := make([]slog.Handler, len(t.sinks))
	for i, sink := range t.sinks {
		sinks[i] = fn(sink)
	}
	return &teeHandler{sinks: sinks}
}

// TeeLogger returns a logger writing to base and to every extra handler. The
// daemon uses it to mirror a diagnostic DEBUG log next to the regular output.
func TeeLogger(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	sinks := extra
	if base != nil {
		sinks = append([]slog.Handler{base.Handler()}, extra...)
	}
	return slog.New(newTeeHandler(sinks...))
}
