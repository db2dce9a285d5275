package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger every dispatch process writes to
// stdout. Each record carries the process name under "service".
func NewLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

func New(w io.Writer, service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	logger := slog.New(slog.NewJSONHandler(w, opts))
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// Discard drops everything; used where a logger is required but unwanted.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
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
