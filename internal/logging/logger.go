package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger every binary in this repo shares. slog
// keeps the standard library feel while still emitting structured logs the
// collectors can parse; the service attribute lets the server and consumer
// logs be told apart downstream.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler).With("service", "food-dispatch")
}

func levelFromString(level string) slog.Leveler {
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
