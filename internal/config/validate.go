package config

import (
	"fmt"
)

// Port range bounds considered sane for the local auth web server.
const (
	minAuthPort = 1024
	maxAuthPort = 65535
)

// Validate checks the fully-loaded config for consistency. All failures
// wrap ErrInvalid.
func Validate(cfg *Config) error {
	if cfg.SyncDirectory == "" {
		return fmt.Errorf("%w: sync_directory is required", ErrInvalid)
	}

	switch cfg.LogLevel {
	case LogDebug, LogInfo, LogWarning, LogError:
	default:
		return fmt.Errorf("%w: log_level must be one of debug, info, warning, error (got %q)", ErrInvalid, cfg.LogLevel)
	}

	switch cfg.ExecutionMode {
	case ModeSingle, ModeContinuous:
	default:
		return fmt.Errorf("%w: execution_mode must be single or continuous (got %q)", ErrInvalid, cfg.ExecutionMode)
	}

	if cfg.MaxDownloads < 0 {
		return fmt.Errorf("%w: max_downloads must be >= 0", ErrInvalid)
	}

	if cfg.MaxFileSizeMB < 0 {
		return fmt.Errorf("%w: max_file_size_mb must be >= 0", ErrInvalid)
	}

	if cfg.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: max_consecutive_failures must be > 0", ErrInvalid)
	}

	if err := validatePortRange(cfg.AuthWebPortRange); err != nil {
		return err
	}

	// Allowlists for a disabled album kind indicate a config mistake.
	if len(cfg.PersonalAlbumNames) > 0 && !cfg.IncludePersonalAlbums {
		return fmt.Errorf("%w: personal_album_names_to_include set but include_personal_albums is false", ErrInvalid)
	}

	if len(cfg.SharedAlbumNames) > 0 && !cfg.IncludeSharedAlbums {
		return fmt.Errorf("%w: shared_album_names_to_include set but include_shared_albums is false", ErrInvalid)
	}

	if cfg.Pushover.Enabled && (cfg.Pushover.APIToken == "" || cfg.Pushover.UserKey == "") {
		return fmt.Errorf("%w: pushover.enabled requires pushover.api_token and pushover.user_key", ErrInvalid)
	}

	if cfg.SyncInterval.Std() <= 0 || cfg.MaintenanceInterval.Std() <= 0 || cfg.DownloadTimeout.Std() <= 0 {
		return fmt.Errorf("%w: intervals and timeouts must be positive", ErrInvalid)
	}

	return nil
}

// validatePortRange checks the two-element auth_web_port_range setting.
func validatePortRange(r []int) error {
	if len(r) != 2 {
		return fmt.Errorf("%w: auth_web_port_range must be two integers [low, high]", ErrInvalid)
	}

	low, high := r[0], r[1]

	if low < minAuthPort || high > maxAuthPort || low > high {
		return fmt.Errorf("%w: auth_web_port_range [%d, %d] out of range (%d-%d, low <= high)",
			ErrInvalid, low, high, minAuthPort, maxAuthPort)
	}

	return nil
}
