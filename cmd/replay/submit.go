package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/tablewatch/internal/replay"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Generate  replay.GenerateConfig
	Input     string
	URL       string
	BatchSize int
	Workers   int
	Timeout   time.Duration
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts, Generate: replay.DefaultGenerateConfig()}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Post a session to a running service",
		Long: `Check the service health, then post the measurements to /measurements in
batches and report how many were queued, dropped or rejected.

Examples:
  replay submit --url http://localhost:9080 --in session.jsonl
  replay submit --hands 100 --batch 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ms, err := loadMeasurements(cmd, opts.Input, opts.Generate)
			if err != nil {
				return fmt.Errorf("load measurements: %w", err)
			}

			client := replay.NewClient(opts.URL,
				replay.WithBatchSize(opts.BatchSize),
				replay.WithWorkers(opts.Workers),
				replay.WithTimeout(opts.Timeout),
				replay.WithClientLogger(opts.Logger(cmd.ErrOrStderr())),
			)
			if err := client.Health(ctx); err != nil {
				return err
			}
			stats, err := client.Submit(ctx, ms)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == replay.FormatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(out, "requests  %d\nsent      %d\naccepted  %d\ndropped   %d\ninvalid   %d\nfailed    %d\n",
				stats.Requests, stats.Sent, stats.Accepted, stats.Dropped, stats.Invalid, stats.Failed)
			return nil
		},
	}

	addGenerateFlags(cmd, &opts.Generate)
	cmd.Flags().StringVar(&opts.Input, "in", "", `JSONL input file, "-" for stdin (default: generate)`)
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:9080", "base URL of the service")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", replay.DefaultBatchSize, "measurements per request")
	cmd.Flags().IntVar(&opts.Workers, "workers", replay.DefaultWorkers, "concurrent requests; more than one gives up ordering")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", replay.DefaultTimeout, "per-request timeout")
	return cmd
}
