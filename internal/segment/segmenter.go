package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Options configures one segmentation pass.
type Options struct {
	// Limits is the accepted segment duration window.
	Limits Limits
	// Initial is the first-pass silence detection pair.
	Initial Params
	// Ladder is walked when the first pass finds too few silences.
	Ladder Ladder
	// RefineLadder overrides the relaxed pairs tried inside over-long spans.
	RefineLadder []Params
	// WorkDir receives the temporary sub-range files of the refiner.
	WorkDir string
}

// DefaultOptions returns the defaults: segments of 2-15 seconds and a
// -35 dB / 700 ms first pass.
func DefaultOptions() Options {
	return Options{
		Limits:  Limits{Min: 2, Max: 15},
		Initial: Params{ThresholdDB: -35, MinSilenceMs: 700},
		Ladder:  DefaultLadder(),
	}
}

// Plan is the segmentation of one source file, before export.
type Plan struct {
	Source        string
	TotalDuration float64
	Limits        Limits
	// Params is the pair that produced Silences.
	Params      Params
	Silences    []SilenceInterval
	Segments    []Segment
	Refinements []Refinement
}

// Segmenter drives probing, scanning, building and refinement for a file.
type Segmenter struct {
	analyzer  Analyzer
	extractor Extractor
	scanner   *Scanner
	logger    *slog.Logger
}

// NewSegmenter creates a Segmenter. A nil logger falls back to slog.Default().
func NewSegmenter(analyzer Analyzer, extractor Extractor, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		analyzer:  analyzer,
		extractor: extractor,
		scanner:   NewScanner(analyzer, logger),
		logger:    logger,
	}
}

// Scanner returns the scanner used by the segmenter.
func (s *Segmenter) Scanner() *Scanner {
	return s.scanner
}

// Probe returns the total duration of file. Every failure wraps ErrProbe.
func (s *Segmenter) Probe(ctx context.Context, file string) (float64, error) {
	total, err := s.analyzer.ProbeDuration(ctx, file)
	if err != nil {
		if errors.Is(err, ErrProbe) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s: %w", ErrProbe, file, err)
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("%w: %s: invalid duration %v", ErrProbe, file, total)
	}
	return total, nil
}

// Plan segments file. ErrProbe and ErrNoSilenceFound are fatal and returned
// wrapped; over-long spans never fail the plan.
func (s *Segmenter) Plan(ctx context.Context, file string, opts Options) (Plan, error) {
	if err := opts.Limits.Validate(); err != nil {
		return Plan{}, err
	}

	total, err := s.Probe(ctx, file)
	if err != nil {
		return Plan{}, err
	}
	s.logger.Info("probed source",
		slog.String("file", file),
		slog.Float64("duration", total),
	)

	scan, err := s.scanner.ScanFile(ctx, file, opts.Initial, opts.Ladder)
	if err != nil {
		return Plan{}, fmt.Errorf("scan %s: %w", file, err)
	}
	silences := normalizeSilences(scan.Intervals, total)
	if len(silences) == 0 {
		return Plan{}, fmt.Errorf("scan %s: %w: all intervals outside [0, %.3f]", file, ErrNoSilenceFound, total)
	}
	s.logger.Info("detected silences",
		slog.String("file", file),
		slog.String("params", scan.Params.String()),
		slog.Int("count", len(silences)),
		slog.Int("attempts", scan.Attempts),
	)

	refiner := NewRefiner(s.scanner, s.extractor, opts.WorkDir, s.logger, WithRefineLadder(opts.RefineLadder))
	var (
		refinements []Refinement
		refineErr   error
	)
	refine := func(span Segment) []Segment {
		if refineErr != nil {
			return nil
		}
		res, err := refiner.Refine(ctx, file, span, opts.Limits)
		if err != nil {
			refineErr = fmt.Errorf("refine %s: %w", span, err)
			return nil
		}
		refinements = append(refinements, res)
		return res.Segments
	}

	segments := NewBuilder(opts.Limits, refine, s.logger).Build(silences, total)
	if refineErr != nil {
		return Plan{}, refineErr
	}

	s.logger.Info("built segments",
		slog.String("file", file),
		slog.Int("segments", len(segments)),
		slog.Int("refined_spans", len(refinements)),
	)

	return Plan{
		Source:        file,
		TotalDuration: total,
		Limits:        opts.Limits,
		Params:        scan.Params,
		Silences:      silences,
		Segments:      segments,
		Refinements:   refinements,
	}, nil
}

// normalizeSilences sorts intervals, clamps them to [0, total] and drops
// the ones left empty.
func normalizeSilences(intervals []SilenceInterval, total float64) []SilenceInterval {
	out := make([]SilenceInterval, 0, len(intervals))
	for _, iv := range intervals {
		start := math.Max(0, iv.Start)
		end := math.Min(total, iv.End)
		if end > start {
			out = append(out, SilenceInterval{Start: start, End: end})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
