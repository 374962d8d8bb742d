package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"rapidshare/models"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "rapidshare"
	// DataDirEnv overrides the resolved data directory when set.
	DataDirEnv = "RAPIDSHARE_DATA_DIR"
	// DeviceIDPrefix marks identifiers generated by this application.
	DeviceIDPrefix = "dev-"
	// configFileName is the persisted identity file.
	configFileName = "config.json"
)

// DeviceConfig contains persistent local-device identity.
type DeviceConfig struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If RAPIDSHARE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectory creates the app data directory if needed.
func EnsureDataDirectory(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
//
// platform seeds the device class used for the default name; an empty value
// falls back to the host platform.
func LoadOrCreate(dataDir, platform string) (*DeviceConfig, string, error) {
	if err := EnsureDataDirectory(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(platform)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, platform) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// NewDeviceID returns a fresh random device identifier.
func NewDeviceID() string {
	return DeviceIDPrefix + uuid.NewString()
}

func defaultConfig(platform string) *DeviceConfig {
	if platform == "" {
		platform = models.HostPlatform()
	}
	return &DeviceConfig{
		DeviceID:   NewDeviceID(),
		DeviceName: models.ClassifyPlatform(platform).DefaultDeviceName(),
		Platform:   platform,
	}
}

func normalizeDefaults(cfg *DeviceConfig, platform string) bool {
	updated := false

	if cfg.Platform == "" {
		if platform == "" {
			platform = models.HostPlatform()
		}
		cfg.Platform = platform
		updated = true
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = NewDeviceID()
		updated = true
	}

	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = models.ClassifyPlatform(cfg.Platform).DefaultDeviceName()
		updated = true
	}

	return updated
}

// Identity is the persisted per-device identity: a stable ID and an
// editable display name.
type Identity struct {
	path string

	mu  sync.RWMutex
	cfg DeviceConfig
}

// OpenIdentity loads (or creates) the identity stored under dataDir.
func OpenIdentity(dataDir, platform string) (*Identity, error) {
	cfg, path, err := LoadOrCreate(dataDir, platform)
	if err != nil {
		return nil, err
	}
	return &Identity{path: path, cfg: *cfg}, nil
}

// Path returns the backing config.json path.
func (i *Identity) Path() string {
	return i.path
}

// DeviceID returns the stable device identifier.
func (i *Identity) DeviceID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.DeviceID
}

// DeviceName returns the current display name.
func (i *Identity) DeviceName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.DeviceName
}

// Platform returns the platform string the device classifies itself from.
func (i *Identity) Platform() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Platform
}

// DeviceClass returns the class derived from the stored platform.
func (i *Identity) DeviceClass() models.DeviceClass {
	return models.ClassifyPlatform(i.Platform())
}

// SetDeviceName updates the display name and persists it.
//
// The in-memory name changes even when the write fails, so the caller may keep
// running with the new name and report the error.
func (i *Identity) SetDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: device name is required", models.ErrInvalid)
	}

	i.mu.Lock()
	i.cfg.DeviceName = name
	snapshot := i.cfg
	i.mu.Unlock()

	return Save(i.path, &snapshot)
}
