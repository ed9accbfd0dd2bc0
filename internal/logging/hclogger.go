package logging

import (
	"context"
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// HCLogger exposes a slog logger through the hclog.Logger interface. Its
// StandardLogger feeds libraries that only accept a *log.Logger, such as
// http.Server.ErrorLog.
func HCLogger(logger *slog.Logger) hclog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger  *slog.Logger
	name    string
	implied []interface{}
}

const levelTrace = slog.LevelDebug - 4

func toSlogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace:
		return levelTrace
	case hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogAdapter) enabled(level slog.Level) bool {
	return s.logger.Enabled(context.Background(), level)
}

func (s *slogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	if level == hclog.Off {
		return
	}
	s.logger.Log(context.Background(), toSlogLevel(level), msg, args...)
}

func (s *slogAdapter) Trace(msg string, args ...interface{}) { s.Log(hclog.Trace, msg, args...) }
func (s *slogAdapter) Debug(msg string, args ...interface{}) { s.Log(hclog.Debug, msg, args...) }
func (s *slogAdapter) Info(msg string, args ...interface{})  { s.Log(hclog.Info, msg, args...) }
func (s *slogAdapter) Warn(msg string, args ...interface{})  { s.Log(hclog.Warn, msg, args...) }
func (s *slogAdapter) Error(msg string, args ...interface{}) { s.Log(hclog.Error, msg, args...) }

func (s *slogAdapter) IsTrace() bool { return s.enabled(levelTrace) }
func (s *slogAdapter) IsDebug() bool { return s.enabled(slog.LevelDebug) }
func (s *slogAdapter) IsInfo() bool  { return s.enabled(slog.LevelInfo) }
func (s *slogAdapter) IsWarn() bool  { return s.enabled(slog.LevelWarn) }
func (s *slogAdapter) IsError() bool { return s.enabled(slog.LevelError) }

func (s *slogAdapter) ImpliedArgs() []interface{} {
	return s.implied
}

func (s *slogAdapter) With(args ...interface{}) hclog.Logger {
	implied := append(append([]interface{}(nil), s.implied...), args...)
	return &slogAdapter{logger: s.logger.With(args...), name: s.name, implied: implied}
}

func (s *slogAdapter) Name() string {
	return s.name
}

func (s *slogAdapter) Named(name string) hclog.Logger {
	if s.name != "" {
		name = s.name + "." + name
	}
	return &slogAdapter{logger: s.logger.With("component", name), name: name, implied: s.implied}
}

func (s *slogAdapter) ResetNamed(name string) hclog.Logger {
	return &slogAdapter{logger: s.logger.With("component", name), name: name}
}

// SetLevel is a no-op: the slog handler owns the level.
func (s *slogAdapter) SetLevel(hclog.Level) {}

func (s *slogAdapter) GetLevel() hclog.Level {
	for _, level := range []hclog.Level{hclog.Trace, hclog.Debug, hclog.Info, hclog.Warn, hclog.Error} {
		if s.enabled(toSlogLevel(level)) {
			return level
		}
	}
	return hclog.Off
}

func (s *slogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	level := slog.LevelInfo
	if opts != nil && opts.ForceLevel != hclog.NoLevel {
		level = toSlogLevel(opts.ForceLevel)
	}
	return slog.NewLogLogger(s.logger.Handler(), level)
}

func (s *slogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return s.StandardLogger(opts).Writer()
}
