package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/scribehq/scribe/src/config"
)

// newLogger builds the process logger from the log config. The "auto" format
// uses tinted output, which is what a terminal session wants; "json" suits
// log collectors.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := parseLogLevel(cfg.Level)

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
	}))
}

func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
