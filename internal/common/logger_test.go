package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/berrythewa/pastesync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("file logging", func(t *testing.T) {
		cfg := &config.Config{DeviceID: "dev"}
		cfg.Log = config.LogConfig{Level: "debug", Format: "console", EnableFileLogging: true}
		cfg.SystemPaths.LogDir = filepath.Join(t.TempDir(), "logs")

		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		logger.Info("hello")
		_ = logger.Sync()

		data, err := os.ReadFile(filepath.Join(cfg.SystemPaths.LogDir, "pastesync.log"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
		assert.Contains(t, string(data), "dev")
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Log.Level = "loud"
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(-1))
		assert.True(t, logger.Core().Enabled(0))
	})
}
