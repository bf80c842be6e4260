package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/config"
)

func lastEntry(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "void.log")
	cfg := config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, err := InitializeLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("test message", "key", "value")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	entry := lastEntry(t, content)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Output: "console"}, &buf)
	require.NoError(t, err)

	logger.Info("suppressed")
	logger.Warn("kept")

	entry := lastEntry(t, buf.Bytes())
	assert.Equal(t, "kept", entry["msg"])
	assert.NotContains(t, buf.String(), "suppressed")
}

func TestNewLoggerFileRequiresPath(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "file"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Output: "console"}, &buf)
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "test-trace-123")
	logger.InfoContext(ctx, "test with trace")

	entry := lastEntry(t, buf.Bytes())
	assert.Equal(t, "test-trace-123", entry["trace_id"])
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	traceID := GetTraceID(ctx)
	assert.Len(t, traceID, 36)

	// An existing trace ID is preserved
	assert.Equal(t, traceID, GetTraceID(EnsureTraceID(ctx)))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLogLevel(input), input)
	}
}

func TestLoggerWithContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "cli-run-1")

	t.Run("plain handler gains trace id", func(t *testing.T) {
		var buf bytes.Buffer
		plain := slog.New(slog.NewJSONHandler(&buf, nil))

		LoggerWithContext(ctx, plain).Info("activated")
		assert.Equal(t, "cli-run-1", lastEntry(t, buf.Bytes())["trace_id"])

		assert.Same(t, plain, LoggerWithContext(context.Background(), plain))
	})

	t.Run("trace handler is left alone", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(config.LoggingConfig{Output: "console"}, &buf)
		require.NoError(t, err)

		assert.Same(t, logger, LoggerWithContext(ctx, logger))
		LoggerWithContext(ctx, logger).InfoContext(ctx, "activated")
		assert.Equal(t, 1, strings.Count(buf.String(), `"trace_id"`))
	})
}
