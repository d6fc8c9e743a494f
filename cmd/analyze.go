package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/satyanetra/satyanetra/internal/analysis"
	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

var (
	analyzeDemo     bool
	analyzePlatform string
)

// newAPIClient builds the transport client from the loaded configuration.
func newAPIClient() satyanetra.Client {
	return satyanetra.NewClient(
		satyanetra.WithBaseURL(cfg.Client.BaseURL),
		satyanetra.WithRetries(cfg.Client.Retries),
		satyanetra.WithTimeouts(cfg.Client.FirstTimeout(), cfg.Client.RetryTimeout()),
		satyanetra.WithRetryBackoff(cfg.Client.RetryBackoff()),
	)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [url]",
	Short: "Submit a product URL and follow the analysis to its report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)

		if analyzeDemo {
			showDemo(out)
			return nil
		}
		if len(args) == 0 {
			return eris.New("a product URL is required (or pass --demo)")
		}
		if err := cfg.Validate("client"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctrl := analysis.NewController(newAPIClient(), cfg.Poll,
			analysis.WithPlatform(analyzePlatform),
			analysis.WithObserver(progressPrinter(out, colorize)),
		)
		snap, err := ctrl.Run(ctx, args[0])
		writeOutcome(out, snap, colorize)
		return err
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDemo, "demo", false, "skip the backend and show the demo report")
	analyzeCmd.Flags().StringVar(&analyzePlatform, "platform", model.DefaultPlatform, "marketplace platform sent with the request")
	rootCmd.AddCommand(analyzeCmd)
}
