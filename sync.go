package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icloudsync/iphoto-downloader/internal/authweb"
	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/icloud"
	"github.com/icloudsync/iphoto-downloader/internal/lock"
	"github.com/icloudsync/iphoto-downloader/internal/notify"
	"github.com/icloudsync/iphoto-downloader/internal/sync"
	"github.com/icloudsync/iphoto-downloader/internal/tracker"
)

// Sync command flags.
var (
	flagDryRun bool
	flagOnce   bool
	flagWatch  bool
)

// newSyncCmd builds the sync command, the main entry point of the program.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync iCloud Photos albums to the local directory",
		Long: "Runs the download-only sync: enumerates the configured albums,\n" +
			"downloads new photos, and honors local deletions permanently.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log intended actions without writing anything")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "run a single cycle regardless of execution_mode")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously regardless of execution_mode")

	cmd.MarkFlagsMutuallyExclusive("once", "watch")

	return cmd
}

// runSync wires the full stack and hands control to the scheduler.
func runSync(parent context.Context) error {
	cfg := loadedCfg
	applySyncFlags(cfg)

	logger := buildLogger()

	if err := requireCredentials(cfg); err != nil {
		return err
	}

	ctx := shutdownContext(parent, logger)

	if !cfg.AllowMultiInstance {
		handle, err := lock.Acquire(cfg.LockPath(), logger)
		if err != nil {
			return err
		}
		defer handle.Release()
	}

	tr, err := tracker.Open(ctx, cfg.DatabasePath(), logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	notifier := buildNotifier(cfg, logger)

	store := icloud.NewSessionStore(config.SessionDir(), logger)

	session, err := icloud.NewClient(cfg.Username, cfg.Password, store, logger)
	if err != nil {
		return err
	}

	coordinator := authweb.New(cfg.AuthWebPortRange[0], cfg.AuthWebPortRange[1], notifier, logger)
	backoff := sync.NewBackoff(config.BackoffFilePath())

	engine := sync.NewEngine(cfg, tr, session, notifier, coordinator, backoff, nil, logger)
	scheduler := sync.NewScheduler(cfg, engine, notifier, logger)

	err = scheduler.Run(ctx)
	if err != nil && ctx.Err() != nil && !errors.Is(err, sync.ErrInterrupted) {
		err = fmt.Errorf("%w: %v", sync.ErrInterrupted, err)
	}

	return err
}

// applySyncFlags folds the command flags into the loaded config. Flags win
// over the file.
func applySyncFlags(cfg *config.Config) {
	if flagDryRun {
		cfg.DryRun = true
	}

	if flagOnce {
		cfg.ExecutionMode = config.ModeSingle
	}

	if flagWatch {
		cfg.ExecutionMode = config.ModeContinuous
	}
}

// buildNotifier returns the configured out-of-band notifier, or a no-op
// when Pushover is not configured.
func buildNotifier(cfg *config.Config, logger *slog.Logger) sync.Notifier {
	if !cfg.Pushover.Enabled {
		return notify.Noop{}
	}

	return notify.NewPushover(cfg.Pushover.APIToken, cfg.Pushover.UserKey, cfg.Pushover.Device, nil, logger)
}
