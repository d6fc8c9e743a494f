package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the gateway ingest route is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)

		res := newAPIClient().Probe(cmd.Context())
		kind := statusOK
		if !res.Success {
			kind = statusError
		}
		msg := fmt.Sprintf("%s (%dms)", res.Message, res.LatencyMs)
		fmt.Fprintln(out, renderStatusLine(cfg.Client.BaseURL, kind, msg, colorize))

		if !res.Success {
			return eris.New("gateway unreachable")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
