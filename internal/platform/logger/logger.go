// Package logger builds the process-wide slog.Logger every service
// constructor accepts via a WithLogger option — never read from a
// global or threaded through context.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON handler logger for production, or a text handler
// when dev is true, matching spec.md §2's "JSON in production, text in
// development" split.
func New(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
