package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("json formatter renames fields", func(t *testing.T) {
		log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, log.GetLevel())

		var buf bytes.Buffer
		log.SetOutput(&buf)
		WithSession(log, "s-1", "u-1").Info("hello")

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["message"])
		assert.Equal(t, "s-1", line["session_id"])
		assert.Equal(t, "u-1", line["user_id"])
		assert.Equal(t, ServiceName, line["service"])
		assert.Contains(t, line, "timestamp")
	})

	t.Run("unknown output", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "info", Output: "syslog"})
		assert.Error(t, err)
	})

	t.Run("file output needs a path", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "info", Output: "both"})
		assert.Error(t, err)
	})

	t.Run("channel field", func(t *testing.T) {
		log, err := NewLogger(&config.LoggingConfig{Level: "info"})
		require.NoError(t, err)
		assert.Equal(t, "websocket", WithChannel(log, "websocket").Data["channel"])
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("file output creates directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "assistant.log")
		log, err := NewLogger(&config.LoggingConfig{
			Level:  "info",
			Output: "file",
			File:   config.FileConfig{Path: path, MaxSize: 1},
		})
		require.NoError(t, err)
		assert.DirExists(t, filepath.Dir(path))
		log.Info("written")
	})

	t.Run("anonymous session omits user", func(t *testing.T) {
		log, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json"})
		require.NoError(t, err)
		entry := WithSession(log, "s-2", "")
		assert.NotContains(t, entry.Data, "user_id")
	})
}
