// Package logger builds the engine's slog.Logger from configuration.
package logger

import (
	"log/slog"
	"os"

	"github.com/HatiCode/scalecast/cmd/engine/config"
)

// New creates a logger with the configured level and format.
// Unknown levels fall back to info; unknown formats fall back to text.
func New(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
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
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
