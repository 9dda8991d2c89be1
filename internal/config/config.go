// Package config loads and validates the static application configuration.
// Every recognized option is a field on Config; there is no free-form
// key-value store at runtime. Unknown keys in the config file are fatal.
package config

import (
	"time"
)

// Execution modes for the sync scheduler.
const (
	ModeSingle     = "single"
	ModeContinuous = "continuous"
)

// Log levels accepted in the config file.
const (
	LogDebug   = "debug"
	LogInfo    = "info"
	LogWarning = "warning"
	LogError   = "error"
)

// Default scheduler and engine tunables.
const (
	DefaultSyncInterval           = 2 * time.Minute
	DefaultMaintenanceInterval    = time.Hour
	DefaultDownloadTimeout        = 120 * time.Second
	DefaultMaxConsecutiveFailures = 5
	DefaultAuthPortLow            = 8080
	DefaultAuthPortHigh           = 8090
)

// Duration wraps time.Duration so it can be written as a human string
// ("2m", "1h") in the TOML file.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PushoverConfig holds the optional Pushover notification credentials.
// Token and key are secrets: they must never appear in logs or errors.
type PushoverConfig struct {
	Enabled  bool   `toml:"enabled"`
	APIToken string `toml:"api_token"`
	UserKey  string `toml:"user_key"`
	Device   string `toml:"device"`
}

// Config is the complete application configuration. Field names map 1:1 to
// TOML keys; defaults come from DefaultConfig.
type Config struct {
	SyncDirectory      string `toml:"sync_directory"`
	DryRun             bool   `toml:"dry_run"`
	MaxDownloads       int    `toml:"max_downloads"`
	MaxFileSizeMB      int    `toml:"max_file_size_mb"`
	LogLevel           string `toml:"log_level"`
	ExecutionMode      string `toml:"execution_mode"`
	AllowMultiInstance bool   `toml:"allow_multi_instance"`

	IncludePersonalAlbums bool     `toml:"include_personal_albums"`
	IncludeSharedAlbums   bool     `toml:"include_shared_albums"`
	PersonalAlbumNames    []string `toml:"personal_album_names_to_include"`
	SharedAlbumNames      []string `toml:"shared_album_names_to_include"`

	// DatabaseParentDirectory may be absolute, relative to the sync root,
	// or contain the %LOCALAPPDATA% token. Empty means the sync root.
	DatabaseParentDirectory string `toml:"database_parent_directory"`

	AuthWebPortRange []int `toml:"auth_web_port_range"`

	SyncInterval           Duration `toml:"sync_interval"`
	MaintenanceInterval    Duration `toml:"maintenance_interval"`
	DownloadTimeout        Duration `toml:"download_timeout"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`

	Pushover PushoverConfig `toml:"pushover"`

	// Credentials come from the environment, never from the file.
	Username string `toml:"-"`
	Password string `toml:"-"`
}

// DefaultConfig returns a Config populated with all default values.
// Loading merges the config file on top of these.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:               LogInfo,
		ExecutionMode:          ModeSingle,
		IncludePersonalAlbums:  true,
		IncludeSharedAlbums:    true,
		AuthWebPortRange:       []int{DefaultAuthPortLow, DefaultAuthPortHigh},
		SyncInterval:           Duration(DefaultSyncInterval),
		MaintenanceInterval:    Duration(DefaultMaintenanceInterval),
		DownloadTimeout:        Duration(DefaultDownloadTimeout),
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
}
