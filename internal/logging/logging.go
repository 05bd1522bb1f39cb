// Package logging builds the process-wide slog logger from configuration,
// with optional rotating file output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hward/marketboard/internal/config"
)

// New creates a logger per the logging configuration. With a file configured
// output goes to both stdout and a size-rotated file.
func New(cfg config.LoggingConfig) *slog.Logger {
	var writer io.Writer = os.Stdout

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err == nil {
			writer = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			})
		}
		// On MkdirAll failure stdout-only logging is still better than no
		// process.
	}

	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(writer, opts))
	}
	return slog.New(slog.NewJSONHandler(writer, opts))
}

// Level maps a config level string to a slog level, defaulting to info.
func Level(s string) slog.Level {
	switch s {
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
