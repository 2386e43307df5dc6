// Command replay generates synthetic table sessions and replays recorded
// measurement streams through the pipeline.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/replay"
	"github.com/okian/tablewatch/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string
}

// Logger writes diagnostics to w: debug level when verbose, warnings otherwise.
func (o *RootOptions) Logger(w io.Writer) logger.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return logger.New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the replay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Generate and replay table measurement streams",
		Long: `Generate synthetic multi-hand measurement streams as JSONL, replay them
through an in-process pipeline, or submit them to a running service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(replay.ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, replay.ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", replay.FormatText, "output format (json|text)")

	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	return cmd
}

// addGenerateFlags binds the synthetic session flags to cfg.
func addGenerateFlags(cmd *cobra.Command, cfg *replay.GenerateConfig) {
	cmd.Flags().IntVar(&cfg.Hands, "hands", cfg.Hands, "number of hands")
	cmd.Flags().IntVar(&cfg.Seats, "seats", cfg.Seats, "occupied seats (2-9)")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	cmd.Flags().Float64Var(&cfg.NoiseRate, "noise", cfg.NoiseRate, "probability of a misread after each read (0-1)")
	cmd.Flags().DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "time between frames")
}

// loadMeasurements reads path, "-" meaning stdin, or generates a session
// when path is empty.
func loadMeasurements(cmd *cobra.Command, path string, gen replay.GenerateConfig) ([]model.Measurement, error) {
	switch path {
	case "":
		return replay.Generate(gen), nil
	case "-":
		return replay.ReadJSONL(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.ReadJSONL(f)
}
