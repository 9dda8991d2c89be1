package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
sync_directory = "/tmp/photos"
dry_run = true
max_downloads = 100
max_file_size_mb = 50
log_level = "debug"
execution_mode = "continuous"
allow_multi_instance = false

include_personal_albums = true
include_shared_albums = true
personal_album_names_to_include = ["Family", "Vacation"]
shared_album_names_to_include = ["Trips"]

database_parent_directory = ".data"
auth_web_port_range = [8080, 8090]

sync_interval = "5m"
maintenance_interval = "2h"
download_timeout = "90s"
max_consecutive_failures = 3

[pushover]
enabled = true
api_token = "token123"
user_key = "user456"
device = "phone"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/photos", cfg.SyncDirectory)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 100, cfg.MaxDownloads)
	assert.Equal(t, 50, cfg.MaxFileSizeMB)
	assert.Equal(t, LogDebug, cfg.LogLevel)
	assert.Equal(t, ModeContinuous, cfg.ExecutionMode)
	assert.Equal(t, []string{"Family", "Vacation"}, cfg.PersonalAlbumNames)
	assert.Equal(t, []string{"Trips"}, cfg.SharedAlbumNames)
	assert.Equal(t, ".data", cfg.DatabaseParentDirectory)
	assert.Equal(t, []int{8080, 8090}, cfg.AuthWebPortRange)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval.Std())
	assert.Equal(t, 2*time.Hour, cfg.MaintenanceInterval.Std())
	assert.Equal(t, 90*time.Second, cfg.DownloadTimeout.Std())
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.True(t, cfg.Pushover.Enabled)
	assert.Equal(t, "token123", cfg.Pushover.APIToken)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeTestConfig(t, `
sync_directory = "/tmp/photos"
sync_directoy = "/tmp/typo"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "sync_directoy")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTestConfig(t, `sync_directory = "/tmp/photos"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, LogInfo, cfg.LogLevel)
	assert.Equal(t, ModeSingle, cfg.ExecutionMode)
	assert.True(t, cfg.IncludePersonalAlbums)
	assert.True(t, cfg.IncludeSharedAlbums)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval.Std())
	assert.Equal(t, DefaultMaxConsecutiveFailures, cfg.MaxConsecutiveFailures)
	assert.Equal(t, []int{DefaultAuthPortLow, DefaultAuthPortHigh}, cfg.AuthWebPortRange)
	assert.False(t, cfg.Pushover.Enabled)
}

func TestLoad_CredentialsFromEnvironment(t *testing.T) {
	t.Setenv(EnvUsername, "user@example.com")
	t.Setenv(EnvPassword, "hunter2")

	path := writeTestConfig(t, `sync_directory = "/tmp/photos"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestLoadOrDefault_MissingFileStillValidates(t *testing.T) {
	// Defaults alone lack sync_directory, so validation must fail.
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, cfg)
}

func TestResolveConfigPath_Precedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "/env/config.toml")

	assert.Equal(t, "/flag/config.toml", ResolveConfigPath("/flag/config.toml"))
	assert.Equal(t, "/env/config.toml", ResolveConfigPath(""))
}
