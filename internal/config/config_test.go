// File: internal/config/config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func withMockedPaths(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	origGetConfigPath := getConfigPath
	origGetDefaultDataDir := getDefaultDataDir
	origGenerateDeviceID := generateDeviceID
	t.Cleanup(func() {
		getConfigPath = origGetConfigPath
		getDefaultDataDir = origGetDefaultDataDir
		generateDeviceID = origGenerateDeviceID
	})

	getConfigPath = func() (string, error) {
		return filepath.Join(tempDir, "config.yaml"), nil
	}
	getDefaultDataDir = func() (string, error) {
		return filepath.Join(tempDir, "data"), nil
	}
	generateDeviceID = func() string {
		return "mock-device-id"
	}
	return tempDir
}

func TestLoad(t *testing.T) {
	tempDir := withMockedPaths(t)

	t.Run("creates default when missing", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "mock-device-id", cfg.DeviceID)
		assert.Equal(t, filepath.Join(tempDir, "data"), cfg.SystemPaths.DataDir)
		assert.Equal(t, filepath.Join(tempDir, "data", "pastes.db"), cfg.Storage.DBPath)
		assert.Equal(t, int64(1<<20), cfg.FileIndex.ChunkSize)
		assert.FileExists(t, filepath.Join(tempDir, "config.yaml"))
	})

	t.Run("existing file keeps defaults for missing keys", func(t *testing.T) {
		path := filepath.Join(tempDir, "custom.yaml")
		raw := []byte("device_id: existing-device\nlog:\n  level: debug\ntask:\n  retry_base_delay: 2s\n")
		require.NoError(t, os.WriteFile(path, raw, 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "existing-device", cfg.DeviceID)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 2*time.Second, cfg.Task.RetryBaseDelay)
		assert.Equal(t, 8, cfg.Task.Workers)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(tempDir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("device_id: [unterminated"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(tempDir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("file_index:\n  chunk_size: 0\n"), 0644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "chunk_size")
	})
}

func TestSaveRoundTrip(t *testing.T) {
	tempDir := withMockedPaths(t)
	cfg := DefaultConfig()
	cfg.Sync.Peers = []PeerConfig{{DeviceID: "laptop", Addr: "/ip4/10.0.0.2/tcp/4001"}}

	path := filepath.Join(tempDir, "out", "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Sync.Peers, back.Sync.Peers)
	assert.Equal(t, cfg.Cleanup, back.Cleanup)
}

func TestOverrideFromEnv(t *testing.T) {
	withMockedPaths(t)
	cfg := DefaultConfig()

	t.Setenv("PASTESYNC_DEVICE_ID", "env-device")
	t.Setenv("PASTESYNC_LISTEN", "/ip4/127.0.0.1/tcp/4001,/ip4/127.0.0.1/tcp/4002")
	t.Setenv("PASTESYNC_POLLING_INTERVAL", "250")
	t.Setenv("PASTESYNC_DATA_DIR", "/srv/pastes")
	t.Setenv("PASTESYNC_BOOTSTRAP", "/ip4/10.0.0.9/tcp/4001/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	overrideFromEnv(cfg)

	assert.Equal(t, "env-device", cfg.DeviceID)
	assert.Len(t, cfg.Sync.ListenAddrs, 2)
	assert.Equal(t, int64(250), cfg.PollingInterval)
	assert.Equal(t, filepath.Join("/srv/pastes", "tasks.db"), cfg.Storage.TaskDBPath)
	assert.True(t, cfg.Sync.EnableDHT)
	assert.Len(t, cfg.Sync.BootstrapPeers, 1)
}

func TestSyncValidate(t *testing.T) {
	c := DefaultSyncConfig()
	require.NoError(t, c.Validate())

	c.Peers = []PeerConfig{{DeviceID: "x", Addr: "not-a-multiaddr"}}
	assert.Error(t, c.Validate())

	c.Peers = []PeerConfig{{Addr: "/ip4/1.2.3.4/tcp/1"}}
	assert.Error(t, c.Validate())

	c = DefaultSyncConfig()
	c.BootstrapPeers = []string{"nope"}
	assert.Error(t, c.Validate())

	c = DefaultSyncConfig()
	c.PresenceInterval = -1
	assert.Error(t, c.Validate())
}

func TestResolve(t *testing.T) {
	p := pathsFor("/cfg", "/data")
	assert.Equal(t, filepath.Join("/data", "images", "a", "b.png"), p.Resolve(paste.CategoryImage, "a/b.png"))
	assert.Equal(t, filepath.Join("/data", "icons", "x.png"), p.Resolve(paste.CategoryIcon, "x.png"))
	assert.Equal(t, filepath.Join("/data", "files", "f"), p.Resolve(paste.CategoryFile, "f"))

	var _ paste.PathResolver = p
}
