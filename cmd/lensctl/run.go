package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runPipeline string
	runMode     string
)

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Submit a single-URL ingest job (Pipeline A) and print the job id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPipeline, "pipeline", "A", "pipeline type: A, B, or C")
	runCmd.Flags().StringVar(&runMode, "mode", "full", "job mode: ingest, analyze, full, preview")
}

type jobResponse struct {
	Job struct {
		ID     string
		Status string
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	target := args[0]
	ctx := context.Background()

	var resp jobResponse
	err := postJSON(ctx, "/api/jobs/", map[string]any{
		"pipeline_type": runPipeline,
		"mode":          runMode,
		"input_config":  map[string]any{"url": target},
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("job %s submitted (status=%s)\n", resp.Job.ID, resp.Job.Status)
	return nil
}
