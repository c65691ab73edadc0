// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/snapwave/snapwave/pkg/errutil"
)

func setup(t *testing.T, opts Options) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := Setup(opts, &buf)
	require.NoError(t, err)
	return logger, &buf
}

func TestSetup_JSONFormat(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave", Version: "1.0.0", Format: "json"})

	logger.Info("test message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Failed to parse JSON: %s", buf.String())
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "snapwave", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave", Format: "text"})

	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=snapwave")
}

func TestSetup_DefaultsToJSONAtInfo(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave"})

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Info("shown")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
}

func TestSetup_Level(t *testing.T) {
	logger, buf := setup(t, Options{Level: "warn"})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_Invalid(t *testing.T) {
	_, err := Setup(Options{Format: "xml"}, nil)
	errutil.AssertErrorCode(t, err, "LOG_FORMAT_INVALID")

	_, err = Setup(Options{Level: "loud"}, nil)
	errutil.AssertErrorCode(t, err, "LOG_LEVEL_INVALID")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestHandler_TraceContext(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave"})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave"})

	logger.Info("no trace message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithAttrsKeepsService(t *testing.T) {
	logger, buf := setup(t, Options{Service: "snapwave"})

	logger.With("component", "web").WithGroup("req").Info("grouped", "path", "/login")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "web", entry["component"])
	assert.Contains(t, buf.String(), `"path":"/login"`)
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger, err := SetDefault(Options{Service: "snapwave", Version: "2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, logger, slog.Default())
}
