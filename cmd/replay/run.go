package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/tablewatch/internal/config"
	"github.com/okian/tablewatch/internal/replay"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Generate replay.GenerateConfig
	Input    string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, Generate: replay.DefaultGenerateConfig()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a session through an in-process pipeline",
		Long: `Feed a JSONL measurement stream, or a freshly generated session, through
the confidence gate, sanity checks and event batching, then print a summary.

Pipeline settings come from TABLEWATCH_CONFIG and TABLEWATCH_* variables.

Examples:
  replay run --in session.jsonl
  replay run --hands 50 --noise 0.05 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			ms, err := loadMeasurements(cmd, opts.Input, opts.Generate)
			if err != nil {
				return fmt.Errorf("load measurements: %w", err)
			}

			r := replay.NewRunner(
				replay.WithConfig(cfg),
				replay.WithLogger(opts.Logger(cmd.ErrOrStderr())),
			)
			sum, err := r.Run(ctx, ms)
			if err != nil {
				return err
			}
			return replay.WriteSummary(cmd.OutOrStdout(), sum, opts.Format)
		},
	}

	addGenerateFlags(cmd, &opts.Generate)
	cmd.Flags().StringVar(&opts.Input, "in", "", `JSONL input file, "-" for stdin (default: generate)`)
	return cmd
}
