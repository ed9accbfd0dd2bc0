package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/domain"
)

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(domain.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("flow started", "flow_id", "f1")
	assert.Contains(t, buf.String(), `"msg":"flow started"`)
	assert.Contains(t, buf.String(), `"flow_id":"f1"`)

	buf.Reset()
	logger, err = New(domain.ObservabilityConfig{LogLevel: "warn", LogFormat: "text"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNew_HCLogFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(domain.ObservabilityConfig{LogLevel: "debug", LogFormat: "hclog"}, &buf)
	require.NoError(t, err)

	logger.With("component", "scheduler").WithGroup("task").Debug("admitted", "id", "t1")
	out := buf.String()
	assert.Contains(t, out, "[DEBUG]")
	assert.Contains(t, out, "researchflow: admitted")
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "task.id=t1")
}

func TestNew_RejectsUnknown(t *testing.T) {
	_, err := New(domain.ObservabilityConfig{LogLevel: "loud"}, nil)
	assert.True(t, domain.IsValidation(err))

	_, err = New(domain.ObservabilityConfig{LogFormat: "xml"}, nil)
	assert.True(t, domain.IsValidation(err))
}

func TestToHCLevel(t *testing.T) {
	h := NewHCLogHandler("x", &bytes.Buffer{}, slog.LevelWarn)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.True(t, strings.EqualFold(toHCLevel(slog.LevelWarn).String(), "warn"))
}
