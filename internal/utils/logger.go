package utils

import (
	"log/slog"
	"os"
)

// Logger is the service-wide structured logger: slog with a JSON handler on
// stdout. Pipeline stages log key/value pairs through it so every line is
// machine-parseable.
type Logger struct {
	*slog.Logger
}

// NewLogger builds a Logger at the given level (debug, info, warn, error).
// Unrecognized levels fall back to info.
func NewLogger(level string) *Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Fatal logs at error level and exits. Reserved for wiring failures in main;
// nothing on a request or pipeline path calls it.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}
