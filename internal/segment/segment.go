// Package segment turns silence intervals detected in a long recording into
// an ordered list of bounded-duration segments suitable for transcription.
//
// The package holds the adaptive part of the pipeline: the parameter ladders
// used to find usable silences, the builder that walks the spoken regions
// between silences, and the refiner that re-analyzes spans that are too long.
// Audio access goes through the Analyzer and Extractor ports so the algorithm
// can be exercised without ffmpeg.
package segment

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrProbe is returned when the total duration of a source file cannot be
	// established. It is fatal to a run.
	ErrProbe = errors.New("probe duration failed")
	// ErrNoSilenceFound is returned when no parameter pair produced a usable
	// list of silence intervals.
	ErrNoSilenceFound = errors.New("no silence found")
	// ErrInvalidLimits is returned when the duration window is empty or negative.
	ErrInvalidLimits = errors.New("invalid duration limits")
)

// SilenceInterval is a detected silent range, in seconds from the start of
// the analyzed file.
type SilenceInterval struct {
	Start float64
	End   float64
}

// Duration returns the length of the interval in seconds.
func (s SilenceInterval) Duration() float64 {
	return s.End - s.Start
}

// Segment is a finished clip boundary in source-file coordinates.
type Segment struct {
	Start float64
	End   float64
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// String returns a human-readable representation for logging.
func (s Segment) String() string {
	return fmt.Sprintf("%.2fs-%.2fs", s.Start, s.End)
}

// Params is one (threshold, minimum silence length) pair handed to the
// analysis provider.
type Params struct {
	// ThresholdDB is the volume in dBFS below which audio counts as silence.
	ThresholdDB float64
	// MinSilenceMs is the minimum length of a silence in milliseconds.
	MinSilenceMs int
}

// MinSilence returns MinSilenceMs in seconds.
func (p Params) MinSilence() float64 {
	return float64(p.MinSilenceMs) / 1000.0
}

// String returns a compact representation such as "-35dB/700ms".
func (p Params) String() string {
	return fmt.Sprintf("%gdB/%dms", p.ThresholdDB, p.MinSilenceMs)
}

// Limits is the accepted [Min, Max] segment duration window in seconds.
type Limits struct {
	Min float64
	Max float64
}

// Validate reports ErrInvalidLimits when the window cannot hold a segment.
func (l Limits) Validate() error {
	if l.Min <= 0 || l.Max <= 0 || l.Min > l.Max {
		return fmt.Errorf("%w: min=%g max=%g", ErrInvalidLimits, l.Min, l.Max)
	}
	return nil
}

// contains reports whether d lies inside the window.
func (l Limits) contains(d float64) bool {
	return d >= l.Min && d <= l.Max
}

// Ladder is an ordered list of progressively more permissive parameter pairs.
type Ladder struct {
	// Steps are tried in order.
	Steps []Params
	// MinIntervals is the number of intervals a step must produce to be
	// accepted on the whole file.
	MinIntervals int
	// LastResort is tried once when no step reached MinIntervals. A zero
	// value disables it.
	LastResort Params
}

// DefaultLadder is the whole-file ladder tried when the first pass finds
// fewer than five silences. The last resort catches relative volume dips
// rather than true silence.
func DefaultLadder() Ladder {
	return Ladder{
		Steps: []Params{
			{ThresholdDB: -40, MinSilenceMs: 500},
			{ThresholdDB: -35, MinSilenceMs: 400},
			{ThresholdDB: -32, MinSilenceMs: 300},
		},
		MinIntervals: 5,
		LastResort:   Params{ThresholdDB: -8, MinSilenceMs: 200},
	}
}

// RefineLadder is the relaxed ladder used inside an over-long span.
func RefineLadder() []Params {
	return []Params{
		{ThresholdDB: -30, MinSilenceMs: 500},
		{ThresholdDB: -25, MinSilenceMs: 400},
		{ThresholdDB: -20, MinSilenceMs: 300},
	}
}

// EqualSlices splits span into ceil(duration/max) pieces of equal width and
// keeps the pieces that are at least limits.Min long. The last piece always
// ends exactly at span.End.
func EqualSlices(span Segment, limits Limits) []Segment {
	d := span.Duration()
	if d <= 0 || limits.Max <= 0 {
		return nil
	}
	n := int(math.Ceil(d / limits.Max))
	if n < 1 {
		n = 1
	}
	width := d / float64(n)

	out := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		start := span.Start + float64(i)*width
		end := span.Start + float64(i+1)*width
		if i == n-1 || end > span.End {
			end = span.End
		}
		if end-start >= limits.Min {
			out = append(out, Segment{Start: start, End: end})
		}
	}
	return out
}

// Coverage returns the summed duration of segs divided by the duration of
// span. It returns 0 for an empty span.
func Coverage(segs []Segment, span Segment) float64 {
	total := span.Duration()
	if total <= 0 {
		return 0
	}
	var covered float64
	for _, s := range segs {
		covered += s.Duration()
	}
	return covered / total
}
