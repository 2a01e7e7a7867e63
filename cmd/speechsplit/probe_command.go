package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maauso/speechsplit/internal/bootstrap"
	"github.com/maauso/speechsplit/internal/segment"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var seg segmentationFlags

	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the duration and detected silences of a recording without exporting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			seg.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.NewLoggerTo(cmd.ErrOrStderr())
			deps, err := bootstrap.NewDependencies(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}

			file := args[0]
			total, err := deps.Segmenter.Probe(cmd.Context(), file)
			if err != nil {
				return err
			}
			opts := cfg.SegmentOptions()
			scan, err := deps.Segmenter.Scanner().ScanFile(cmd.Context(), file, opts.Initial, opts.Ladder)
			if err != nil {
				return fmt.Errorf("scan %s: %w", file, err)
			}

			printProbe(cmd.OutOrStdout(), file, total, scan)
			return nil
		},
	}

	seg.register(cmd.Flags())
	return cmd
}

func printProbe(w io.Writer, file string, total float64, scan segment.ScanResult) {
	fmt.Fprintf(w, "Source:    %s\n", file)
	fmt.Fprintf(w, "Duration:  %ss\n", formatSeconds(total))
	fmt.Fprintf(w, "Silences:  %d at %s (%d detection passes)\n", len(scan.Intervals), scan.Params, scan.Attempts)
	if len(scan.Intervals) == 0 {
		return
	}

	rows := make([][]string, 0, len(scan.Intervals))
	for i, s := range scan.Intervals {
		rows = append(rows, []string{
			strconv.Itoa(i),
			formatSeconds(s.Start),
			formatSeconds(s.End),
			formatSeconds(s.Duration()),
		})
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Start", "End", "Duration"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
	))
}
