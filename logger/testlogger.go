package logger

import (
	"log/slog"
	"os"
)

// NewTestLogger returns a logger for tests. Logs are suppressed unless DEBUG
// is set (1 = info, 2 = debug) so test output stays readable.
func NewTestLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
