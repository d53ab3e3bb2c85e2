package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/config"
	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/berrythewa/pastesync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, verbose, quiet, useJSON, noColors, plain = "", false, false, false, false, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config", "config.yaml")
	t.Setenv("PASTESYNC_CONFIG", configPath)
	t.Setenv("PASTESYNC_DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("PASTESYNC_LOG_LEVEL", "error")

	t.Run("version", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "Version:")
	})

	t.Run("config init", func(t *testing.T) {
		out, err := execute(t, "config", "init")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration initialized at: "+configPath)
		assert.FileExists(t, configPath)

		_, err = execute(t, "config", "init")
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("config show", func(t *testing.T) {
		out, err := execute(t, "config", "show", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"device_id"`)

		out, err = execute(t, "config", "path")
		require.NoError(t, err)
		assert.Contains(t, out, filepath.Join(root, "data", "pastes.db"))
	})

	t.Run("history", func(t *testing.T) {
		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		store, err := storage.NewBoltStorage(storage.StorageConfig{DBPath: cfg.Storage.DBPath, Resolver: cfg.SystemPaths})
		require.NoError(t, err)
		_, _, err = store.Persist(context.Background(), &paste.Data{
			Coordinate: paste.NewCoordinate(0, cfg.DeviceID, time.Now()),
			Primary:    paste.NewTextItem(nil, "hello history", nil),
		})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		out, err := execute(t, "history", "list", "--no-colors")
		require.NoError(t, err)
		assert.Contains(t, out, "#1 text")
		assert.Contains(t, out, "hello history")

		out, err = execute(t, "history", "list", "--plain", "--compact")
		require.NoError(t, err)
		assert.Contains(t, out, "#1 text hello history")
		assert.NotContains(t, out, "\033[")

		out, err = execute(t, "history", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, "hello history")

		out, err = execute(t, "history", "favorite", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "favorite: true")

		out, err = execute(t, "history", "stats", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"favorites": 1`)

		out, err = execute(t, "history", "delete", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 1 entries")

		_, err = execute(t, "history", "show", "x")
		assert.ErrorContains(t, err, "invalid paste id")
	})

	t.Run("clean", func(t *testing.T) {
		out, err := execute(t, "clean")
		require.NoError(t, err)
		assert.Contains(t, out, "Expired entries deleted: 0")
	})

	t.Run("task list", func(t *testing.T) {
		out, err := execute(t, "task", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "ATTEMPTS")
	})

	t.Run("status", func(t *testing.T) {
		out, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "not running")
	})

	_, err := os.Stat(filepath.Join(root, "data"))
	assert.NoError(t, err)
}
