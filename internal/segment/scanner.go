package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// retryThresholdStepDB is added to the threshold for the single retry after
// an empty detection.
const retryThresholdStepDB = 10

// Scanner runs silence detection through an Analyzer.
type Scanner struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewScanner creates a Scanner. A nil logger falls back to slog.Default().
func NewScanner(analyzer Analyzer, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{analyzer: analyzer, logger: logger}
}

// ScanResult is the outcome of a whole-file scan.
type ScanResult struct {
	// Intervals are the accepted silence intervals.
	Intervals []SilenceInterval
	// Params is the pair that produced Intervals.
	Params Params
	// Attempts is the number of detection calls made.
	Attempts int
}

// Scan runs one detection with p. If nothing is found it retries once with a
// threshold 10 dB more permissive before returning ErrNoSilenceFound. The
// returned Params are the ones that produced the intervals.
func (s *Scanner) Scan(ctx context.Context, file string, p Params) ([]SilenceInterval, Params, error) {
	intervals, used, _, err := s.scan(ctx, file, p)
	return intervals, used, err
}

// scan is Scan that also reports how many detection calls were made.
func (s *Scanner) scan(ctx context.Context, file string, p Params) ([]SilenceInterval, Params, int, error) {
	intervals, err := s.analyzer.DetectSilence(ctx, file, p)
	if err != nil {
		return nil, p, 1, fmt.Errorf("detect silence %s with %s: %w", file, p, err)
	}
	if len(intervals) > 0 {
		return intervals, p, 1, nil
	}

	retry := Params{ThresholdDB: p.ThresholdDB + retryThresholdStepDB, MinSilenceMs: p.MinSilenceMs}
	s.logger.Debug("no silence detected, retrying with relaxed threshold",
		slog.String("file", file),
		slog.String("params", p.String()),
		slog.String("retry", retry.String()),
	)

	intervals, err = s.analyzer.DetectSilence(ctx, file, retry)
	if err != nil {
		return nil, retry, 2, fmt.Errorf("detect silence %s with %s: %w", file, retry, err)
	}
	if len(intervals) == 0 {
		return nil, retry, 2, fmt.Errorf("%w: %s with %s", ErrNoSilenceFound, file, retry)
	}
	return intervals, retry, 2, nil
}

// ScanFile finds the silences used to bound segments across a whole file.
// The initial pair is tried first; when it yields fewer than
// ladder.MinIntervals, the ladder steps are tried in order, then the last
// resort. When the last resort finds nothing but an earlier attempt found a
// few silences, the richest earlier list is used. ErrNoSilenceFound is
// returned when nothing was found at all.
func (s *Scanner) ScanFile(ctx context.Context, file string, initial Params, ladder Ladder) (ScanResult, error) {
	var (
		best     ScanResult
		attempts int
	)

	try := func(p Params) (ScanResult, bool, error) {
		intervals, used, calls, err := s.scan(ctx, file, p)
		attempts += calls
		if err != nil && !errors.Is(err, ErrNoSilenceFound) {
			return ScanResult{}, false, err
		}
		res := ScanResult{Intervals: intervals, Params: used}
		if len(res.Intervals) > len(best.Intervals) {
			best = res
		}
		s.logger.Debug("silence scan attempt",
			slog.String("file", file),
			slog.String("params", used.String()),
			slog.Int("intervals", len(intervals)),
		)
		return res, len(intervals) >= ladder.MinIntervals, nil
	}

	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}

	res, ok, err := try(initial)
	if err != nil {
		return ScanResult{}, err
	}
	if ok {
		res.Attempts = attempts
		return res, nil
	}

	s.logger.Info("few silence points found, walking parameter ladder",
		slog.String("file", file),
		slog.Int("found", len(res.Intervals)),
	)

	for _, p := range ladder.Steps {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}
		res, ok, err := try(p)
		if err != nil {
			return ScanResult{}, err
		}
		if ok {
			res.Attempts = attempts
			return res, nil
		}
	}

	if ladder.LastResort != (Params{}) {
		s.logger.Info("looking for relative volume drops",
			slog.String("file", file),
			slog.String("params", ladder.LastResort.String()),
		)
		res, _, err := try(ladder.LastResort)
		if err != nil {
			return ScanResult{}, err
		}
		if len(res.Intervals) > 0 {
			res.Attempts = attempts
			return res, nil
		}
	}

	if len(best.Intervals) > 0 {
		best.Attempts = attempts
		return best, nil
	}
	return ScanResult{Attempts: attempts}, fmt.Errorf("%w: %s after %d attempts", ErrNoSilenceFound, file, attempts)
}
