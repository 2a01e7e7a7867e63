package segment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// goodCoverage stops the refine ladder as soon as a pair covers more than
// this fraction of the span.
const goodCoverage = 0.8

// Refinement is the outcome of refining one over-long span.
type Refinement struct {
	// Span is the original over-long span in source coordinates.
	Span Segment
	// Segments are the accepted segments in source coordinates.
	Segments []Segment
	// Coverage is the summed duration of Segments over the span duration.
	Coverage float64
	// Params is the pair whose result was selected. Zero when Fallback is set.
	Params Params
	// Fallback reports that no pair produced a usable split and the span was
	// sliced into equal pieces.
	Fallback bool
}

// Refiner re-analyzes over-long spans with relaxed silence parameters.
type Refiner struct {
	scanner   *Scanner
	extractor Extractor
	workDir   string
	ladder    []Params
	logger    *slog.Logger
}

// RefinerOption configures a Refiner.
type RefinerOption func(*Refiner)

// WithRefineLadder replaces the relaxed parameter ladder.
func WithRefineLadder(ladder []Params) RefinerOption {
	return func(r *Refiner) {
		if len(ladder) > 0 {
			r.ladder = ladder
		}
	}
}

// NewRefiner creates a Refiner writing its temporary sub-range files to
// workDir. An empty workDir uses os.TempDir().
func NewRefiner(scanner *Scanner, extractor Extractor, workDir string, logger *slog.Logger, opts ...RefinerOption) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	r := &Refiner{
		scanner:   scanner,
		extractor: extractor,
		workDir:   workDir,
		ladder:    RefineLadder(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refine splits span of file into segments within limits. The span is
// extracted into its own temporary file which is scanned with each relaxed
// pair in turn; the pair with the best coverage wins, and a pair covering
// more than 80% of the span ends the search. When no pair produces a usable
// split the span is sliced into equal pieces.
//
// Only context cancellation is returned as an error; extraction and
// detection failures fall back to equal slicing.
func (r *Refiner) Refine(ctx context.Context, file string, span Segment, limits Limits) (Refinement, error) {
	result := Refinement{Span: span}

	subfile := filepath.Join(r.workDir, "span-"+uuid.NewString()+".ogg")
	defer func() {
		if err := os.Remove(subfile); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove span file",
				slog.String("path", subfile),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := r.extractor.Extract(ctx, file, span.Start, span.Duration(), subfile); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		r.logger.Warn("failed to extract span for analysis, slicing evenly",
			slog.String("range", span.String()),
			slog.String("error", err.Error()),
		)
		return r.fallback(span, limits), nil
	}

	var best Refinement
	for _, p := range r.ladder {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		intervals, used, err := r.scanner.Scan(ctx, subfile, p)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if !errors.Is(err, ErrNoSilenceFound) {
				r.logger.Warn("span scan failed",
					slog.String("range", span.String()),
					slog.String("params", p.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if len(intervals) < 2 {
			continue
		}

		segs := CombineGaps(intervals, span, limits)
		cov := Coverage(segs, span)
		r.logger.Debug("span refine attempt",
			slog.String("range", span.String()),
			slog.String("params", used.String()),
			slog.Int("silences", len(intervals)),
			slog.Int("segments", len(segs)),
			slog.Float64("coverage", cov),
		)

		if len(segs) > 0 && cov > best.Coverage {
			best = Refinement{Span: span, Segments: segs, Coverage: cov, Params: used}
		}
		if cov > goodCoverage {
			break
		}
	}

	if len(best.Segments) == 0 {
		r.logger.Debug("no usable silences inside span, slicing evenly",
			slog.String("range", span.String()),
		)
		return r.fallback(span, limits), nil
	}
	return best, nil
}

func (r *Refiner) fallback(span Segment, limits Limits) Refinement {
	segs := EqualSlices(span, limits)
	return Refinement{
		Span:     span,
		Segments: segs,
		Coverage: Coverage(segs, span),
		Fallback: true,
	}
}

// CombineGaps builds segments from the gaps between silences detected inside
// span. intervals are relative to span.Start. Consecutive gaps are combined
// forward while their summed duration is shorter than limits.Min and the
// next gap keeps the sum within limits.Max. Groups whose sum is below
// limits.Min are skipped; groups wider than limits.Max are sliced evenly.
func CombineGaps(intervals []SilenceInterval, span Segment, limits Limits) []Segment {
	clamp := func(v float64) float64 {
		return math.Min(span.Start+math.Max(v, 0), span.End)
	}

	gaps := make([]Segment, 0, len(intervals))
	for j := 0; j+1 < len(intervals); j++ {
		start := clamp(intervals[j].End)
		end := clamp(intervals[j+1].Start)
		if end > start {
			gaps = append(gaps, Segment{Start: start, End: end})
		}
	}

	var out []Segment
	for i := 0; i < len(gaps); {
		group := gaps[i]
		spoken := group.Duration()
		last := i
		for spoken < limits.Min &&
			last+1 < len(gaps) &&
			spoken+gaps[last+1].Duration() <= limits.Max {
			last++
			group.End = gaps[last].End
			spoken += gaps[last].Duration()
		}

		switch {
		case spoken < limits.Min:
		case group.Duration() > limits.Max:
			out = append(out, EqualSlices(group, limits)...)
		default:
			out = append(out, group)
		}
		i = last + 1
	}
	return out
}
