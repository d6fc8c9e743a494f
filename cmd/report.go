package main

import (
	"github.com/spf13/cobra"

	"github.com/satyanetra/satyanetra/internal/analysis"
)

var reportCmd = &cobra.Command{
	Use:   "report [productId]",
	Short: "Fetch and render the trust-score report for a product",
	Long:  "Fetches the report for productId. Without an id, or when the report cannot be loaded, the demo report is shown instead.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)

		var productID string
		if len(args) == 1 {
			productID = args[0]
		}

		ctrl := analysis.NewController(newAPIClient(), cfg.Poll,
			analysis.WithObserver(progressPrinter(out, colorize)),
		)
		snap, err := ctrl.Resolve(cmd.Context(), productID)
		writeOutcome(out, snap, colorize)
		return err
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
