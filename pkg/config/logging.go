package config

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures the process-wide slog default from LOG_LEVEL
// (debug|info|warn|error) and LOG_FORMAT (text|json) and returns it.
func SetupLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(GetEnv("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(GetEnv("LOG_FORMAT", "text")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
