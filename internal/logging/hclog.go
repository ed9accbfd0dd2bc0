package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// HCLogHandler is a slog.Handler that writes through an hclog.Logger.
type HCLogHandler struct {
	logger hclog.Logger
	level  slog.Level
	group  string
}

func NewHCLogHandler(name string, w io.Writer, level slog.Level) *HCLogHandler {
	return &HCLogHandler{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:            name,
			Output:          w,
			Level:           toHCLevel(level),
			Color:           hclog.AutoColor,
			IncludeLocation: false,
		}),
		level: level,
	}
}

func (h *HCLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HCLogHandler) Handle(_ context.Context, r slog.Record) error {
	args := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, h.key(a.Key), a.Value.Resolve().Any())
		return true
	})
	h.logger.Log(toHCLevel(r.Level), r.Message, args...)
	return nil
}

func (h *HCLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := make([]interface{}, 0, len(attrs)*2)
	for _, a := range attrs {
		args = append(args, h.key(a.Key), a.Value.Resolve().Any())
	}
	return &HCLogHandler{logger: h.logger.With(args...), level: h.level, group: h.group}
}

func (h *HCLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &HCLogHandler{logger: h.logger, level: h.level, group: group}
}

func (h *HCLogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func toHCLevel(level slog.Level) hclog.Level {
	switch {
	case level < slog.LevelDebug:
		return hclog.Trace
	case level < slog.LevelInfo:
		return hclog.Debug
	case level < slog.LevelWarn:
		return hclog.Info
	case level < slog.LevelError:
		return hclog.Warn
	default:
		return hclog.Error
	}
}
