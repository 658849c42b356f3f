package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the JSON logger used by every binary. DEBUG=true or
// LOG_LEVEL=debug lowers the level and adds source locations.
func New() *slog.Logger {
	level := slog.LevelInfo
	debug := os.Getenv("DEBUG") == "true"
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		debug = true
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	return slog.New(handler)
}
