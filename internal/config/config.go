// File: internal/config/config.go

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// General settings
	DeviceID   string `json:"device_id" yaml:"device_id"`
	DeviceName string `json:"device_name" yaml:"device_name"`

	// System paths configuration
	SystemPaths ConfigPaths `json:"system_paths" yaml:"system_paths"`

	Log       LogConfig       `json:"log" yaml:"log"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Task      TaskConfig      `json:"task" yaml:"task"`
	Cleanup   CleanupConfig   `json:"cleanup" yaml:"cleanup"`
	FileIndex FileIndexConfig `json:"file_index" yaml:"file_index"`

	// Clipboard watcher implementation registered in the platform package
	Watcher         string `json:"watcher" yaml:"watcher"`
	PollingInterval int64  `json:"polling_interval" yaml:"polling_interval"` // milliseconds
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level             string `json:"level" yaml:"level"`
	Format            string `json:"format" yaml:"format"` // "json" or "console"
	EnableFileLogging bool   `json:"enable_file_logging" yaml:"enable_file_logging"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	DBPath     string `json:"db_path" yaml:"db_path"`
	TaskDBPath string `json:"task_db_path" yaml:"task_db_path"`
}

// TaskConfig tunes the task engine
type TaskConfig struct {
	Workers        int           `json:"workers" yaml:"workers"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	// Terminal tasks older than this are purged at startup
	KeepTerminal time.Duration `json:"keep_terminal" yaml:"keep_terminal"`
}

// CleanupConfig drives the storage cleanup task
type CleanupConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Interval       time.Duration `json:"interval" yaml:"interval"`
	ImageRetention time.Duration `json:"image_retention" yaml:"image_retention"`
	FileRetention  time.Duration `json:"file_retention" yaml:"file_retention"`
	// MaxStorageSize is the non-favorite byte ceiling, 0 disables the threshold pass
	MaxStorageSize int64 `json:"max_storage_size" yaml:"max_storage_size"`
	// CleanupPercentage of the non-favorite size evicted once over the ceiling
	CleanupPercentage int `json:"cleanup_percentage" yaml:"cleanup_percentage"`
}

// FileIndexConfig controls chunking and the index cache
type FileIndexConfig struct {
	ChunkSize int64         `json:"chunk_size" yaml:"chunk_size"`
	CacheSize int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Overridable for tests
var (
	getConfigPath     = defaultConfigPath
	getDefaultDataDir = defaultDataDir
	generateDeviceID  = func() string { return uuid.New().String() }
)

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	paths, err := GetConfigPaths()
	if err != nil {
		// fall back to a relative data dir so defaults are still usable
		paths = pathsFor(".", filepath.Join(".", "data"))
	}
	hostname, _ := os.Hostname()

	return &Config{
		DeviceID:    generateDeviceID(),
		DeviceName:  hostname,
		SystemPaths: *paths,
		Log: LogConfig{
			Level:             "info",
			Format:            "json",
			EnableFileLogging: false,
		},
		Storage: StorageConfig{
			DBPath:     paths.DBFile,
			TaskDBPath: paths.TaskDBFile,
		},
		Sync: DefaultSyncConfig(),
		Task: TaskConfig{
			Workers:        8,
			QueueSize:      256,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  30 * time.Second,
			KeepTerminal:   7 * 24 * time.Hour,
		},
		Cleanup: CleanupConfig{
			Enabled:           true,
			Interval:          30 * time.Minute,
			ImageRetention:    30 * 24 * time.Hour,
			FileRetention:     30 * 24 * time.Hour,
			MaxStorageSize:    2 << 30, // 2GB
			CleanupPercentage: 10,
		},
		FileIndex: FileIndexConfig{
			ChunkSize: 1 << 20,
			CacheSize: 32,
			CacheTTL:  time.Minute,
		},
		Watcher:         "polling",
		PollingInterval: platformPollingInterval(),
	}
}

// Load loads the configuration from the specified file or creates default if not exists
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		var err error
		configPath, err = getConfigPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if err := cfg.Save(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
			overrideFromEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so missing keys keep sane values
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to the specified file
func (c *Config) Save(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id must not be empty")
	}
	if c.FileIndex.ChunkSize <= 0 {
		return fmt.Errorf("file_index.chunk_size must be positive, got %d", c.FileIndex.ChunkSize)
	}
	if c.Task.Workers <= 0 {
		return fmt.Errorf("task.workers must be positive, got %d", c.Task.Workers)
	}
	if c.Cleanup.CleanupPercentage < 0 || c.Cleanup.CleanupPercentage > 100 {
		return fmt.Errorf("cleanup.cleanup_percentage must be within 0..100, got %d", c.Cleanup.CleanupPercentage)
	}
	return c.Sync.Validate()
}

// overrideFromEnv overrides configuration values from environment variables
func overrideFromEnv(config *Config) {
	if val := os.Getenv("PASTESYNC_DEVICE_ID"); val != "" {
		config.DeviceID = val
	}
	if val := os.Getenv("PASTESYNC_DEVICE_NAME"); val != "" {
		config.DeviceName = val
	}
	if val := os.Getenv("PASTESYNC_DATA_DIR"); val != "" {
		config.SystemPaths = *pathsFor(config.SystemPaths.BaseDir, val)
		config.Storage.DBPath = config.SystemPaths.DBFile
		config.Storage.TaskDBPath = config.SystemPaths.TaskDBFile
	}
	if val := os.Getenv("PASTESYNC_LOG_LEVEL"); val != "" {
		config.Log.Level = val
	}

	if val := os.Getenv("PASTESYNC_SYNC_ENABLED"); val != "" {
		config.Sync.Enabled = val == "true"
	}
	if val := os.Getenv("PASTESYNC_LISTEN"); val != "" {
		config.Sync.ListenAddrs = strings.Split(val, ",")
	}
	if val := os.Getenv("PASTESYNC_BOOTSTRAP"); val != "" {
		config.Sync.EnableDHT = true
		config.Sync.BootstrapPeers = strings.Split(val, ",")
	}
	if val := os.Getenv("PASTESYNC_POLLING_INTERVAL"); val != "" {
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.PollingInterval = ms
		}
	}
}

// ActiveConfigPath returns override when set, otherwise the platform
// default location (honoring PASTESYNC_CONFIG and PASTESYNC_CONFIG_DIR).
func ActiveConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return getConfigPath()
}
