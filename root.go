package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/icloudsync/iphoto-downloader/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// loadedCfg holds the configuration loaded by PersistentPreRunE, available
// to all subcommands after the pre-run phase completes.
var loadedCfg *config.Config

// newRootCmd builds the fully-assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "iphoto-downloader",
		Short:   "iCloud Photos download-only sync client",
		Long: "Continuously mirrors iCloud Photos albums into a local directory.\n" +
			"Download-only: the cloud library is never modified, and photos deleted\n" +
			"locally are remembered and never downloaded again.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig loads and validates the effective configuration: defaults,
// then the config file, then environment credentials. The file location
// comes from --config, the environment, or the platform default.
func loadConfig() error {
	cfg, err := config.LoadOrDefault(config.ResolveConfigPath(flagConfigPath))
	if err != nil {
		return err
	}

	loadedCfg = cfg

	return nil
}

// buildLogger creates the process logger. Colored human-readable output on
// a terminal, plain text otherwise. Config-file log level is the baseline;
// --verbose and --quiet override it.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if loadedCfg != nil {
		switch loadedCfg.LogLevel {
		case config.LogDebug:
			level = slog.LevelDebug
		case config.LogWarning:
			level = slog.LevelWarn
		case config.LogError:
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// requireCredentials checks the environment-supplied account credentials
// before any network work starts.
func requireCredentials(cfg *config.Config) error {
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("%w: %s and %s must be set",
			config.ErrInvalid, config.EnvUsername, config.EnvPassword)
	}

	return nil
}
