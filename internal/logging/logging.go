package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/eleven-am/researchflow/internal/domain"
)

const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatHCLog = "hclog"
)

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, domain.NewValidationError("unsupported log level %q, use debug, info, warn or error", level)
	}
}

// New builds the process logger. Format "hclog" renders through go-hclog's
// console formatter.
func New(cfg domain.ObservabilityConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case FormatText, "":
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatHCLog:
		handler = NewHCLogHandler("researchflow", w, level)
	default:
		return nil, domain.NewValidationError("unsupported log format %q, use text, json or hclog", cfg.LogFormat)
	}

	return slog.New(handler).With("service", "researchflow"), nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}
