package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelInfo)

	ctx := WithRequestID(context.Background(), "req-42")
	LoggerFromContext(ctx).Info("captured")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "req-42", line["request_id"])
	require.Equal(t, "captured", line["msg"])
}

func TestInit_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, slog.LevelWarn)

	Logger().Info("hidden")
	require.Zero(t, buf.Len())

	WithFields("item_id", "t_1").Warn("shown")
	require.Contains(t, buf.String(), `"item_id":"t_1"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelError, ParseLevel(" ERROR "))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
