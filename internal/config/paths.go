package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux   = "linux"
	platformDarwin  = "darwin"
	platformWindows = "windows"
)

// Application directory name used across all platforms.
const appName = "iphoto-downloader"

// Config file name.
const configFileName = "config.toml"

// Directory under the user state dir that holds persisted cloud sessions.
// Kept under the historical name for compatibility with existing installs.
const sessionDirName = "iphoto_downloader"

// localAppDataToken is accepted in any configured path and expands to the
// host's user-local application-data directory.
const localAppDataToken = "%LOCALAPPDATA%"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/iphoto-downloader).
// On macOS, uses ~/Library/Application Support per Apple guidelines.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// LocalAppDataDir returns the user-local application-data directory that the
// %LOCALAPPDATA% token expands to. On Windows this is the real LOCALAPPDATA
// environment variable; elsewhere it follows XDG_DATA_HOME with the usual
// ~/.local/share fallback.
func LocalAppDataDir() string {
	if runtime.GOOS == platformWindows {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir
		}
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".local", "share")
}

// SessionDir returns the per-user directory for persisted cloud session
// blobs: <user_state_dir>/iphoto_downloader/sessions.
func SessionDir() string {
	return filepath.Join(LocalAppDataDir(), sessionDirName, "sessions")
}

// BackoffFilePath returns the path of the persisted 2FA back-off counter in
// the OS temp directory. A restart must not reset the back-off.
func BackoffFilePath() string {
	return filepath.Join(os.TempDir(), "iphoto_downloader_backoff.json")
}

// ExpandPath expands the %LOCALAPPDATA% token and a leading ~ in the given
// path. The result is not guaranteed to be absolute.
func ExpandPath(path string) string {
	if strings.Contains(path, localAppDataToken) {
		path = strings.ReplaceAll(path, localAppDataToken, LocalAppDataDir())
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	return filepath.Clean(path)
}

// DatabaseDir resolves the tracker's parent directory for the given config.
// Absolute paths are used verbatim; relative paths resolve against the sync
// root; an empty setting means the sync root itself.
func (c *Config) DatabaseDir() string {
	dir := ExpandPath(c.DatabaseParentDirectory)
	if c.DatabaseParentDirectory == "" {
		return ExpandPath(c.SyncDirectory)
	}

	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(ExpandPath(c.SyncDirectory), dir)
}

// DatabasePath returns the full path of the tracker database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir(), "deletion_tracker.db")
}

// LockPath returns the path of the single-instance lock file, kept next to
// the tracker database so the lock scope matches the sync root.
func (c *Config) LockPath() string {
	return filepath.Join(c.DatabaseDir(), appName+".lock")
}
