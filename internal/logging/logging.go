// Package logging provides the terminal-aware structured logger used by the
// nbd-server and nbd-client commands. It follows the same shape as
// marmos91/dittofs's internal/logger: a slog.Logger whose handler emits
// text when standard error is a terminal and JSON otherwise.
package logging

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// New builds a logger named by component (e.g. "nbd", "kernelattach") that
// writes to os.Stderr. When stderr is a terminal, it uses slog's text
// handler with source omitted for readability; otherwise it emits JSON so
// the output is friendly to log collectors once the process is
// daemonized.
func New(component string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("component", component)
}

func levelFromEnv() slog.Level {
	switch os.Getenv("NBD_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
