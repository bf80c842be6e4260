package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures log records", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("test message", slog.String("key", "value"))
		logger.Error("error message", slog.Int("code", 500))

		require.Equal(t, 2, handler.Count())
		assert.True(t, handler.ContainsMessage("test message"))
		assert.True(t, handler.ContainsAttr("key", "value"))
		assert.True(t, handler.ContainsAttr("code", int64(500)))
		assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)
	})

	t.Run("with attrs and groups", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.With(slog.String("component", "license_manager")).
			WithGroup("license").
			Info("activated", slog.String("tier", "personal"))

		records := handler.GetRecords()
		require.Len(t, records, 1)
		assert.Equal(t, "license_manager", records[0].Attrs["component"])
		assert.Equal(t, "personal", records[0].Attrs["license.tier"])
	})

	t.Run("derived loggers share the buffer", func(t *testing.T) {
		logger, handler := NewTestLogger(nil)

		logger.With("a", 1).Info("one")
		logger.Info("two")

		assert.Equal(t, 2, handler.Count())
		handler.Clear()
		assert.Zero(t, handler.Count())
	})

	t.Run("contains text searches string attrs", func(t *testing.T) {
		logger, handler := NewTestLogger(nil)

		logger.Warn("rejected", slog.String("customer_email_masked", "c****r@example.com"))

		assert.True(t, handler.ContainsText("c****r@"))
		assert.False(t, handler.ContainsText("customer@example.com"))
	})
}

func TestStaticFingerprinter(t *testing.T) {
	fp, err := StaticFingerprinter{Value: "abc", Degraded: true}.Generate()
	require.NoError(t, err)
	assert.Equal(t, "abc", fp.Fingerprint)
	assert.Equal(t, "fallback", fp.Method)
	assert.True(t, fp.Degraded)
}
