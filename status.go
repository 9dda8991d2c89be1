package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/sync"
	"github.com/icloudsync/iphoto-downloader/internal/tracker"
)

var flagStatusJSON bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deletion tracker statistics",
		Long: "Displays the state of the deletion tracker: record counts, albums,\n" +
			"locally deleted photos, and any pending 2FA back-off.",
		RunE: runStatus,
	}

	cmd.Flags().BoolVar(&flagStatusJSON, "json", false, "output in JSON format")

	return cmd
}

// statusReport is the machine-readable status output.
type statusReport struct {
	DatabasePath   string     `json:"database_path"`
	TotalRecords   int        `json:"total_records"`
	DeletedLocally int        `json:"deleted_locally"`
	Albums         int        `json:"albums"`
	TwoFAFailures  int        `json:"twofa_failures,omitempty"`
	TwoFANextTry   *time.Time `json:"twofa_next_attempt,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := loadedCfg
	logger := buildLogger()

	tr, err := tracker.Open(cmd.Context(), cfg.DatabasePath(), logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	stats, err := tr.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	report := statusReport{
		DatabasePath:   tr.Path(),
		TotalRecords:   stats.TotalRecords,
		DeletedLocally: stats.Deleted,
		Albums:         stats.Albums,
	}

	backoff := sync.NewBackoff(config.BackoffFilePath())
	if backoff.Failures() > 0 {
		report.TwoFAFailures = backoff.Failures()
		next := backoff.Until()
		report.TwoFANextTry = &next
	}

	if flagStatusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	fmt.Printf("Database: %s\n", report.DatabasePath)
	fmt.Printf("  Records:         %d\n", report.TotalRecords)
	fmt.Printf("  Deleted locally: %d\n", report.DeletedLocally)
	fmt.Printf("  Albums:          %d\n", report.Albums)

	if report.TwoFAFailures > 0 {
		fmt.Printf("  2FA back-off:    %d failures, next attempt %s\n",
			report.TwoFAFailures, report.TwoFANextTry.Format(time.RFC3339))
	}

	return nil
}
