// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Level defaults to info;
// set FACTURADOR_LOG_LEVEL=debug for verbose submission tracing.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("FACTURADOR_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
