// internal/log/console.go
package log

import (
	"io"
	"log/slog"
)

// consoleTimeFormat keeps text lines short next to CLI event output.
const consoleTimeFormat = "15:04:05.000"

// NewConsoleHandler creates a handler that writes to w in cfg.Format
// ("text" or "json"). Text output uses a clock-only timestamp.
func NewConsoleHandler(w io.Writer, cfg *Config, level slog.Level) slog.Handler {
	if cfg.Format == "json" {
		return newFormatHandler(w, "json", level)
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, a.Value.Time().Format(consoleTimeFormat))
			}
			return a
		},
	})
}

// newFormatHandler is the plain handler used for files, where full
// timestamps matter.
func newFormatHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
