// Package logging builds the process-wide slog logger.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

// New returns a text logger writing to w (stderr when nil) at the given
// level name. Unknown levels fall back to info.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Error logs err at error level. Metadata attached with zerr.With is
// flattened into attributes so it survives text output.
func Error(ctx context.Context, l *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	args := []any{"error", err}
	var zErr *zerr.Error
	if errors.As(err, &zErr) {
		meta := zErr.Metadata()
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, k, meta[k])
		}
	}
	OrDefault(l).ErrorContext(ctx, msg, args...)
}
