package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

const smokeURL = "https://www.amazon.com/test-product"

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run an end-to-end check of ingest, status and report through the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("client"); err != nil {
			return err
		}
		return runSmoke(cmd.Context(), newAPIClient(), cmd.OutOrStdout())
	},
}

// runSmoke performs one ingest, one status call and one report call,
// logging each step.
func runSmoke(ctx context.Context, api satyanetra.Client, w io.Writer) error {
	logf := func(format string, args ...any) {
		fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	}
	fail := func(err error) error {
		logf("FAIL: %s", satyanetra.UserMessage(err))
		return err
	}

	logf("Step 1: POST /api/ingest")
	ing, err := api.Ingest(ctx, model.NewAnalysisRequest(smokeURL, ""))
	if err != nil {
		return fail(err)
	}
	logf("ok: ingest jobId=%s productId=%s", ing.JobID, ing.ProductID)

	logf("Step 2: GET /api/job/%s", ing.JobID)
	job, err := api.JobStatus(ctx, ing.JobID)
	if err != nil {
		return fail(err)
	}
	logf("ok: status=%s progress=%d%%", job.Status, job.Progress)

	logf("Step 3: GET /api/product/%s", ing.ProductID)
	report, err := api.ProductScore(ctx, ing.ProductID)
	if err != nil {
		return fail(err)
	}
	logf("ok: overallScore=%d", report.OverallScore)

	logf("All checks passed")
	return nil
}

func init() {
	rootCmd.AddCommand(smokeCmd)
}
