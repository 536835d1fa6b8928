package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// MultiHandler sends each record to several destinations: the JSON stream on
// stdout or stderr, the diagnostic Sink, the system_logs table and Sentry.
// Every destination applies its own level threshold.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler skips nil handlers so optional destinations can be passed
// unconditionally.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHandler{handlers: kept}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers a clone of the record to every enabled destination. A
// destination that fails or panics does not stop the others; the failures
// are joined.
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := deliver(ctx, h, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, h slog.Handler, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("log handler %T panicked: %v", h, r)
		}
	}()
	return h.Handle(ctx, record)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	next := &MultiHandler{handlers: make([]slog.Handler, len(m.handlers))}
	for i, h := range m.handlers {
		next.handlers[i] = fn(h)
	}
	return next
}
