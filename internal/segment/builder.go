package segment

import (
	"log/slog"
	"math"
)

// RefineFunc re-splits a span longer than the maximum duration. It must
// return segments lying inside span, in order.
type RefineFunc func(span Segment) []Segment

// Builder converts silence intervals into segments.
type Builder struct {
	limits Limits
	refine RefineFunc
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil refine falls back to equal slicing and
// a nil logger to slog.Default().
func NewBuilder(limits Limits, refine RefineFunc, logger *slog.Logger) *Builder {
	if refine == nil {
		refine = func(span Segment) []Segment { return EqualSlices(span, limits) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{limits: limits, refine: refine, logger: logger}
}

// Build is shorthand for NewBuilder(limits, refine, nil).Build(silences, total).
func Build(silences []SilenceInterval, total float64, limits Limits, refine RefineFunc) []Segment {
	return NewBuilder(limits, refine, nil).Build(silences, total)
}

// CandidateSpans returns the spoken regions between consecutive silences:
// the lead-in before the first silence when it is non-empty, then every gap
// between adjacent silences. Audio after the last silence is not a
// candidate. Intervals are clamped to [0, total].
func CandidateSpans(silences []SilenceInterval, total float64) []Segment {
	if len(silences) == 0 {
		return nil
	}
	clamp := func(v float64) float64 {
		return math.Max(0, math.Min(v, total))
	}

	spans := make([]Segment, 0, len(silences))
	if first := clamp(silences[0].Start); first > 0 {
		spans = append(spans, Segment{Start: 0, End: first})
	}
	for i := 0; i+1 < len(silences); i++ {
		start := clamp(silences[i].End)
		end := clamp(silences[i+1].Start)
		if end > start {
			spans = append(spans, Segment{Start: start, End: end})
		}
	}
	return spans
}

// accumulator holds short spans waiting to be combined. spoken is the summed
// duration of the absorbed spans; the silences between them do not count.
type accumulator struct {
	start  float64
	end    float64
	spoken float64
	active bool
}

func (a *accumulator) add(span Segment) {
	if !a.active {
		a.start = span.Start
		a.active = true
	}
	a.end = span.End
	a.spoken += span.Duration()
}

func (a *accumulator) reset() {
	*a = accumulator{}
}

// emit returns rng as a segment when its width lies within the limits,
// sliced evenly when it is wider than the maximum, and nothing when it is
// narrower than the minimum.
func (b *Builder) emit(rng Segment) []Segment {
	switch d := rng.Duration(); {
	case d > b.limits.Max:
		return EqualSlices(rng, b.limits)
	case d >= b.limits.Min:
		return []Segment{rng}
	}
	return nil
}

// Build walks the candidate spans left to right and returns the finished
// segments in temporal order. Short spans are accumulated until their spoken
// duration reaches the minimum; an accumulated range wider than the maximum
// is sliced evenly.
func (b *Builder) Build(silences []SilenceInterval, total float64) []Segment {
	spans := CandidateSpans(silences, total)
	var (
		out []Segment
		acc accumulator
	)

	for i, span := range spans {
		d := span.Duration()

		switch {
		case d > b.limits.Max:
			if acc.active {
				pending := Segment{Start: acc.start, End: span.Start}
				if flushed := b.emit(pending); len(flushed) > 0 {
					out = append(out, flushed...)
				} else {
					b.logger.Debug("dropping short accumulation before long span",
						slog.String("accumulated", pending.String()),
					)
				}
				acc.reset()
			}
			refined := b.refine(span)
			b.logger.Debug("refined long span",
				slog.Int("span", i),
				slog.String("range", span.String()),
				slog.Int("segments", len(refined)),
			)
			out = append(out, refined...)

		case b.limits.contains(d):
			if acc.active {
				pending := Segment{Start: acc.start, End: span.Start}
				merged := Segment{Start: acc.start, End: span.End}
				switch {
				case pending.Duration() >= b.limits.Min:
					out = append(out, b.emit(pending)...)
				case merged.Duration() <= b.limits.Max:
					// Carry the short lead-in forward into this span.
					span = merged
				default:
					out = append(out, EqualSlices(merged, b.limits)...)
					acc.reset()
					continue
				}
				acc.reset()
			}
			out = append(out, span)

		default:
			acc.add(span)
			if acc.spoken >= b.limits.Min {
				out = append(out, b.emit(Segment{Start: acc.start, End: acc.end})...)
				acc.reset()
			}
		}
	}

	if acc.active && acc.spoken >= b.limits.Min {
		out = append(out, b.emit(Segment{Start: acc.start, End: spans[len(spans)-1].End})...)
	}
	return out
}
