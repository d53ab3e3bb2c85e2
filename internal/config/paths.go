// File: internal/config/paths.go

package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/berrythewa/pastesync/internal/paste"
)

// ConfigPaths holds all relevant paths for the application
type ConfigPaths struct {
	BaseDir      string `json:"base_dir" yaml:"base_dir"`
	ConfigFile   string `json:"config_file" yaml:"config_file"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DBFile       string `json:"db_file" yaml:"db_file"`
	TaskDBFile   string `json:"task_db_file" yaml:"task_db_file"`
	LogDir       string `json:"log_dir" yaml:"log_dir"`
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
	FilesDir     string `json:"files_dir" yaml:"files_dir"`
	ImagesDir    string `json:"images_dir" yaml:"images_dir"`
	IconsDir     string `json:"icons_dir" yaml:"icons_dir"`
	DownloadsDir string `json:"downloads_dir" yaml:"downloads_dir"`
	IdentityFile string `json:"identity_file" yaml:"identity_file"`
}

// GetConfigPaths returns the platform-specific configuration paths
func GetConfigPaths() (*ConfigPaths, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	dataDir, err := getDefaultDataDir()
	if err != nil {
		return nil, err
	}
	paths := pathsFor(filepath.Dir(configPath), dataDir)
	paths.ConfigFile = configPath
	return paths, nil
}

func pathsFor(baseDir, dataDir string) *ConfigPaths {
	home, _ := os.UserHomeDir()
	return &ConfigPaths{
		BaseDir:      baseDir,
		ConfigFile:   filepath.Join(baseDir, "config.yaml"),
		DataDir:      dataDir,
		DBFile:       filepath.Join(dataDir, "pastes.db"),
		TaskDBFile:   filepath.Join(dataDir, "tasks.db"),
		LogDir:       filepath.Join(dataDir, "logs"),
		TempDir:      filepath.Join(dataDir, "temp"),
		FilesDir:     filepath.Join(dataDir, "files"),
		ImagesDir:    filepath.Join(dataDir, "images"),
		IconsDir:     filepath.Join(dataDir, "icons"),
		DownloadsDir: filepath.Join(home, "Downloads"),
		IdentityFile: filepath.Join(dataDir, "identity.key"),
	}
}

// EnsureDirs creates every directory the daemon writes to
func (p ConfigPaths) EnsureDirs() error {
	for _, dir := range []string{p.DataDir, p.LogDir, p.TempDir, p.FilesDir, p.ImagesDir, p.IconsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Resolve maps an owned storage category and a slash separated relative
// path to a location on disk.
func (p ConfigPaths) Resolve(category paste.FileCategory, rel string) string {
	var dir string
	switch category {
	case paste.CategoryImage:
		dir = p.ImagesDir
	case paste.CategoryIcon:
		dir = p.IconsDir
	default:
		dir = p.FilesDir
	}
	return filepath.Join(dir, filepath.FromSlash(rel))
}

func (p ConfigPaths) DownloadDir() string { return p.DownloadsDir }

func defaultConfigPath() (string, error) {
	if path := os.Getenv("PASTESYNC_CONFIG"); path != "" {
		return path, nil
	}
	baseDir := os.Getenv("PASTESYNC_CONFIG_DIR")
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		switch runtime.GOOS {
		case "windows":
			baseDir = filepath.Join(configDir, "PasteSync")
		case "darwin":
			baseDir = filepath.Join(configDir, "com.berrythewa.pastesync")
		default:
			baseDir = filepath.Join(configDir, "pastesync")
		}
	}
	return filepath.Join(baseDir, "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	if dir := os.Getenv("PASTESYNC_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "windows":
		if appData, err := os.UserConfigDir(); err == nil {
			return filepath.Join(appData, "PasteSync", "Data"), nil
		}
		return filepath.Join(home, "AppData", "Local", "PasteSync"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "PasteSync"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "pastesync"), nil
		}
		return filepath.Join(home, ".local", "share", "pastesync"), nil
	}
}

func platformPollingInterval() int64 {
	switch runtime.GOOS {
	case "darwin", "windows":
		return 500
	default:
		return 1000
	}
}
