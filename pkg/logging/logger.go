// Package logging builds the slog loggers shared across the booking engine.
// Every component (coordinator, recorder, sequencer, transports) receives a
// child logger tagged with its name so one session's log stream is filterable
// per component.
package logging

import (
	"log/slog"
	"os"
)

// InitLogger returns the engine's root logger: JSON on stdout with source
// locations, at the given level.
func InitLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

// NewComponentLogger derives a child logger carrying the component name on
// every record.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", component))
}
