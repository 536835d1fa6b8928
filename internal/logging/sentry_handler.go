package logging

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler forwards CRITICAL records to Sentry as fatal events.
type SentryHandler struct {
	hub   *sentry.Hub
	attrs []slog.Attr
}

// NewSentryHandler uses the current hub when hub is nil.
func NewSentryHandler(hub *sentry.Hub) *SentryHandler {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryHandler{hub: hub}
}

func (h *SentryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= LevelCritical
}

func (h *SentryHandler) Handle(_ context.Context, record slog.Record) error {
	event := sentry.NewEvent()
	event.Level = sentry.LevelFatal
	event.Message = record.Message
	event.Timestamp = record.Time
	event.Tags = map[string]string{}
	event.Extra = map[string]interface{}{}

	apply := func(a slog.Attr) bool {
		a = Redact(a)
		switch a.Key {
		case KeyCategory, KeyCorrelationID, KeySubjectID:
			event.Tags[a.Key] = a.Value.String()
		default:
			event.Extra[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		apply(a)
	}
	record.Attrs(apply)

	h.hub.CaptureEvent(event)
	return nil
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *SentryHandler) WithGroup(string) slog.Handler {
	return h
}
