package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icloudsync/iphoto-downloader/internal/config"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

// shownConfig is the redacted view of the effective configuration.
// Credentials and notification secrets never reach stdout.
type shownConfig struct {
	SyncDirectory      string   `json:"sync_directory"`
	DatabasePath       string   `json:"database_path"`
	DryRun             bool     `json:"dry_run"`
	ExecutionMode      string   `json:"execution_mode"`
	LogLevel           string   `json:"log_level"`
	MaxDownloads       int      `json:"max_downloads"`
	MaxFileSizeMB      int      `json:"max_file_size_mb"`
	AllowMultiInstance bool     `json:"allow_multi_instance"`
	PersonalAlbums     bool     `json:"include_personal_albums"`
	SharedAlbums       bool     `json:"include_shared_albums"`
	PersonalAlbumNames []string `json:"personal_album_names_to_include,omitempty"`
	SharedAlbumNames   []string `json:"shared_album_names_to_include,omitempty"`
	AuthWebPortRange   []int    `json:"auth_web_port_range"`
	SyncInterval       string   `json:"sync_interval"`
	Username           string   `json:"username,omitempty"`
	PushoverEnabled    bool     `json:"pushover_enabled"`
	PushoverAPIToken   string   `json:"pushover_api_token,omitempty"`
	PushoverUserKey    string   `json:"pushover_user_key,omitempty"`
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg := loadedCfg
	if cfg == nil {
		return fmt.Errorf("%w: no configuration loaded", config.ErrInvalid)
	}

	shown := shownConfig{
		SyncDirectory:      cfg.SyncDirectory,
		DatabasePath:       cfg.DatabasePath(),
		DryRun:             cfg.DryRun,
		ExecutionMode:      cfg.ExecutionMode,
		LogLevel:           cfg.LogLevel,
		MaxDownloads:       cfg.MaxDownloads,
		MaxFileSizeMB:      cfg.MaxFileSizeMB,
		AllowMultiInstance: cfg.AllowMultiInstance,
		PersonalAlbums:     cfg.IncludePersonalAlbums,
		SharedAlbums:       cfg.IncludeSharedAlbums,
		PersonalAlbumNames: cfg.PersonalAlbumNames,
		SharedAlbumNames:   cfg.SharedAlbumNames,
		AuthWebPortRange:   cfg.AuthWebPortRange,
		SyncInterval:       cfg.SyncInterval.Std().String(),
		Username:           cfg.Username,
		PushoverEnabled:    cfg.Pushover.Enabled,
	}

	if cfg.Pushover.APIToken != "" {
		shown.PushoverAPIToken = redacted
	}

	if cfg.Pushover.UserKey != "" {
		shown.PushoverUserKey = redacted
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(shown)
}
