package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/satyanetra/satyanetra/internal/analysis"
	"github.com/satyanetra/satyanetra/internal/model"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Render the built-in demo report",
	RunE: func(cmd *cobra.Command, args []string) error {
		showDemo(cmd.OutOrStdout())
		return nil
	},
}

func showDemo(w io.Writer) {
	report := model.DemoReport(time.Now())
	writeOutcome(w, analysis.Snapshot{
		State:  analysis.StateResolved,
		Report: &report,
		Demo:   true,
	}, shouldColorize(w))
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
