package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/tablewatch/internal/replay"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Config replay.GenerateConfig
	Output string
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts, Config: replay.DefaultGenerateConfig()}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic session as JSONL",
		Long: `Generate a deterministic multi-hand session: pot, button, player, hero card,
board and action reads, one JSON measurement per line.

Examples:
  replay generate --hands 20 --seed 7 -o session.jsonl
  replay generate --noise 0.1 | replay run --in -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ms := replay.Generate(opts.Config)
			if opts.Output == "" || opts.Output == "-" {
				return replay.WriteJSONL(cmd.OutOrStdout(), ms)
			}
			f, err := os.Create(opts.Output)
			if err != nil {
				return err
			}
			if err := replay.WriteJSONL(f, ms); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if opts.Verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d measurements to %s\n", len(ms), opts.Output)
			}
			return nil
		},
	}

	addGenerateFlags(cmd, &opts.Config)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	return cmd
}
