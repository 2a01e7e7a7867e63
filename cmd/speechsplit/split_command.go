package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/maauso/speechsplit/internal/bootstrap"
	"github.com/maauso/speechsplit/internal/config"
	"github.com/maauso/speechsplit/internal/export"
	"github.com/maauso/speechsplit/internal/metadata"
	"github.com/maauso/speechsplit/internal/run"
)

// segmentationFlags are the segmentation settings shared by split and probe.
type segmentationFlags struct {
	minDuration   float64
	maxDuration   float64
	silenceThresh float64
	minSilenceLen int
}

func (f *segmentationFlags) register(flags *pflag.FlagSet) {
	flags.Float64Var(&f.minDuration, "min-duration", 0, "Minimum clip length in seconds")
	flags.Float64Var(&f.maxDuration, "max-duration", 0, "Maximum clip length in seconds")
	flags.Float64Var(&f.silenceThresh, "silence-thresh", 0, "First-pass silence threshold in dBFS")
	flags.IntVar(&f.minSilenceLen, "min-silence-len", 0, "First-pass minimum silence length in milliseconds")
}

// apply copies the flags the user set onto cfg.
func (f *segmentationFlags) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("min-duration") {
		cfg.MinDuration = f.minDuration
	}
	if flags.Changed("max-duration") {
		cfg.MaxDuration = f.maxDuration
	}
	if flags.Changed("silence-thresh") {
		cfg.SilenceThreshDB = f.silenceThresh
	}
	if flags.Changed("min-silence-len") {
		cfg.MinSilenceMs = f.minSilenceLen
	}
}

func newSplitCommand(ctx *commandContext) *cobra.Command {
	var (
		seg       segmentationFlags
		outputDir string
		workers   int
		publish   bool
	)

	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Split a recording into clips and write the clip table and silence metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			seg.apply(flags, cfg)
			if flags.Changed("output-dir") {
				cfg.OutputDir = outputDir
			}
			if flags.Changed("workers") {
				cfg.MaxWorkers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.NewLoggerTo(cmd.ErrOrStderr())
			deps, err := bootstrap.NewDependencies(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}

			result, err := deps.Service.Split(cmd.Context(), run.Request{
				SourcePath: args[0],
				Publish:    publish,
			})
			if result != nil {
				out := cmd.OutOrStdout()
				printRun(out, result, shouldColorize(out))
			}
			// Failed clips leave the run PARTIAL without an error.
			return err
		},
	}

	seg.register(cmd.Flags())
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Root directory for clips and metadata")
	cmd.Flags().IntVar(&workers, "workers", 0, "Maximum concurrent clip exports (0 = 2 x CPU count)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Upload clips and metadata to S3 when configured")

	return cmd
}

func printRun(w io.Writer, r *run.Run, color bool) {
	lines := []string{
		fmt.Sprintf("Source:    %s", r.Source),
		fmt.Sprintf("Status:    %s", colorize(string(r.Status), statusColor(r.Status), color)),
	}
	if r.Error != "" {
		lines = append(lines, fmt.Sprintf("Error:     %s", r.Error))
	}
	if r.Summary.TotalDuration > 0 {
		lines = append(lines,
			fmt.Sprintf("Duration:  %ss", formatSeconds(r.Summary.TotalDuration)),
			fmt.Sprintf("Silences:  %d at %s", r.Summary.Silences, r.Summary.Params),
			fmt.Sprintf("Segments:  %d (%d refined, %d sliced evenly)", r.Summary.Segments, r.Summary.Refined, r.Summary.Fallbacks),
		)
	}
	if r.Artifacts.ClipDir != "" {
		lines = append(lines,
			fmt.Sprintf("Clips:     %s", r.Artifacts.ClipDir),
			fmt.Sprintf("Table:     %s", r.Artifacts.TablePath),
			fmt.Sprintf("Metadata:  %s", r.Artifacts.SidecarPath),
		)
	}
	for _, url := range r.Artifacts.URLs {
		lines = append(lines, fmt.Sprintf("Published: %s", url))
	}
	for _, msg := range r.PublishErrors {
		lines = append(lines, colorize(fmt.Sprintf("Publish:   %s", msg), ansiYellow, color))
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))

	if len(r.Segments) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(
			[]string{"#", "Start", "End", "Duration", "Clip", "Status"},
			segmentRows(r),
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
		))
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		rows := make([][]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			rows = append(rows, []string{filepath.Base(f.Path), f.Message})
		}
		fmt.Fprintln(w, renderTable([]string{"Failed clip", "Error"}, rows, nil))
	}
}

// segmentRows lists every planned segment with the clip it was written to.
func segmentRows(r *run.Run) [][]string {
	failed := make(map[string]bool, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.Path] = true
	}
	target := export.Target{Dir: r.Artifacts.ClipDir, Base: metadata.BaseName(r.Source)}

	rows := make([][]string, 0, len(r.Segments))
	for i, s := range r.Segments {
		status := "ok"
		clip := target.Path(i)
		switch {
		case r.Artifacts.ClipDir == "":
			status = "not exported"
		case failed[clip]:
			status = "failed"
		}
		rows = append(rows, []string{
			strconv.Itoa(i),
			formatSeconds(s.Start),
			formatSeconds(s.End),
			formatSeconds(s.Duration()),
			filepath.Base(clip),
			status,
		})
	}
	return rows
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
