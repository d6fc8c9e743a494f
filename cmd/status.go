package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satyanetra/satyanetra/internal/analysis"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

var statusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the current status of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)

		job, err := newAPIClient().JobStatus(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintln(out, renderStatusLine("Job "+args[0], statusError, satyanetra.UserMessage(err), colorize))
			return err
		}

		line := snapshotLine(analysis.Snapshot{
			State:    analysis.StatePolling,
			JobID:    job.JobID,
			Status:   job.Status,
			Progress: job.Progress,
			Logs:     job.Logs,
		}, colorize)
		fmt.Fprintln(out, line)
		if job.Error != "" {
			fmt.Fprintln(out, renderStatusLine("Error", statusError, job.Error, colorize))
		}
		for _, l := range job.Logs {
			fmt.Fprintf(out, "%s- %s\n", lineIndent, l)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
