package logging

import (
	"io"
	"log/slog"
)

// Setup installs a JSON handler on w as the default slog logger. Any extra
// handlers receive the same records through a MultiHandler.
func Setup(w io.Writer, level slog.Level, extra ...slog.Handler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceAttr,
	})

	var root slog.Handler = handler
	if len(extra) > 0 {
		root = NewMultiHandler(append([]slog.Handler{handler}, extra...)...)
	}

	logger := slog.New(root)
	slog.SetDefault(logger)
	return logger
}

// ReplaceAttr renames levels (so CRITICAL prints as such) and redacts
// secret-bearing attributes. Use it as slog.HandlerOptions.ReplaceAttr.
func ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, LevelName(l))
		}
	}
	return Redact(a)
}
