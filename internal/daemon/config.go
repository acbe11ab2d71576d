package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wbkfs/internal/artifacts"
	"wbkfs/internal/storage"
)

// getConfigDir returns the config directory path.
// Uses WBKFS_CONFIG_DIR env var if set, otherwise defaults to ~/.wbkfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("WBKFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wbkfs")
}

const daemonName = "daemon"

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SocketPath returns the Unix socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), daemonName+".sock")
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), daemonName+".pid")
}

// LogPath returns the log file path.
// Uses WBKFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon.log.
func LogPath() string {
	if envPath := os.Getenv("WBKFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), daemonName+".log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), daemonName+".lock")
}

// GlobalSettingsPath returns the settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if none exists.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// GlobalSettings represents daemon settings
type GlobalSettings struct {
	LogLevel       string   `yaml:"log_level"`         // trace, debug, info, warn, none
	ListenAddr     string   `yaml:"listen_addr"`       // NFS/SMB listen address
	ShareName      string   `yaml:"share_name"`        // export or share name
	MetricsAddr    string   `yaml:"metrics_addr"`      // empty disables /metrics
	MaxBuffers     int      `yaml:"max_buffers"`       // 0 = unlimited
	WritePolicy    string   `yaml:"write_policy"`      // replace | extend
	BackupExcludes []string `yaml:"backup_excludes"`   // gitignore patterns
	AttrCacheTTLMs int      `yaml:"attr_cache_ttl_ms"` // negative disables the cache
}

// Validate checks field values that the daemon would otherwise reject at
// start-up.
func (s *GlobalSettings) Validate() error {
	if s.MaxBuffers < 0 {
		return fmt.Errorf("max_buffers must not be negative (got %d)", s.MaxBuffers)
	}
	if _, err := storage.ParseWritePolicy(s.WritePolicy); err != nil {
		return err
	}
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	switch strings.ToLower(s.LogLevel) {
	case "", "none", "off", "trace", "debug", "info", "warn":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// Policy returns the parsed write policy, defaulting to replace.
func (s *GlobalSettings) Policy() storage.WritePolicy {
	p, err := storage.ParseWritePolicy(s.WritePolicy)
	if err != nil {
		return storage.WriteReplace
	}
	return p
}

// AttrCacheTTL returns the attribute cache TTL as a duration.
func (s *GlobalSettings) AttrCacheTTL() time.Duration {
	return time.Duration(s.AttrCacheTTLMs) * time.Millisecond
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadGlobalSettings loads settings.yaml from the config directory. Fields
// missing from the file keep their embedded defaults; a missing file yields
// the defaults.
func LoadGlobalSettings() (*GlobalSettings, error) {
	settings := loadDefaultGlobalSettings()
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", GlobalSettingsPath(), err)
	}
	return &settings, nil
}

// SaveGlobalSettings writes settings to the config directory
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# WbkFS daemon settings\n# See: wbkfs daemon config --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}
