// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

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
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("verification", "1.0.0", "json", "info", &buf)

	logger.Info("code issued")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "code issued", entry["msg"])
	assert.Equal(t, "verification", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("supervisor", "1.0.0", "text", "info", &buf)

	logger.Info("service started")

	output := buf.String()
	assert.Contains(t, output, "service started")
	assert.Contains(t, output, "supervisor")
}

func TestSetup_DefaultFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("encryption", "1.0.0", "", "", &buf)

	logger.Info("hello")

	decodeEntry(t, &buf)
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("encryption", "1.0.0", "json", "warn", &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decodeEntry(t, &buf)["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("verification", "1.0.0", "json", "debug", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("encryption", "1.0.0", "json", "info", &buf).With("component", "rpc")

	ctx := WithRequestID(context.Background(), "01HZX3Y4")
	logger.InfoContext(ctx, "handled")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "01HZX3Y4", entry["request_id"])
	assert.Equal(t, "rpc", entry["component"])
	assert.Equal(t, "01HZX3Y4", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestHandler_NoContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("verification", "1.0.0", "json", "info", &buf)

	logger.Info("plain")

	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "request_id")
}

func TestHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("supervisor", "1.0.0", "json", "info", &buf).WithGroup("child")

	logger.Info("grouped", "pid", 42)

	entry := decodeEntry(t, &buf)
	child, ok := entry["child"].(map[string]any)
	require.True(t, ok, "expected child group in %v", entry)
	assert.InDelta(t, 42, child["pid"], 0)
}
