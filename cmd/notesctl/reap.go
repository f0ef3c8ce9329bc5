package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"notehub/internal/app"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one retention reaper cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(cmd.Context(), cfg, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer application.Close()

		stats, err := application.Reaper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d purged=%d skipped=%d blob_failures=%d record_failures=%d\n",
			stats.Candidates, stats.Purged, stats.Skipped, stats.BlobFailures, stats.RecordFailures)
		return nil
	},
}
