package segment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fakeAnalyzer answers detections from scripted tables. Files whose base
// name starts with "span-" are refiner sub-files and use the span table.
type fakeAnalyzer struct {
	mu        sync.Mutex
	duration  float64
	probeErr  error
	detectErr error
	whole     map[Params][]SilenceInterval
	span      map[Params][]SilenceInterval
	calls     []Params
	spanCalls []Params
}

func (f *fakeAnalyzer) DetectSilence(_ context.Context, file string, p Params) ([]SilenceInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	if strings.HasPrefix(filepath.Base(file), "span-") {
		f.spanCalls = append(f.spanCalls, p)
		return append([]SilenceInterval(nil), f.span[p]...), nil
	}
	f.calls = append(f.calls, p)
	return append([]SilenceInterval(nil), f.whole[p]...), nil
}

func (f *fakeAnalyzer) ProbeDuration(_ context.Context, _ string) (float64, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.duration, nil
}

func (f *fakeAnalyzer) spanCalled(p Params) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.spanCalls {
		if c == p {
			return true
		}
	}
	return false
}

// fakeExtractor writes an empty file at the output path.
type fakeExtractor struct {
	mu      sync.Mutex
	err     error
	outputs []string
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _, _ float64, outputPath string) error {
	f.mu.Lock()
	f.outputs = append(f.outputs, outputPath)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, nil, 0600)
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intervalsAt(points ...[2]float64) []SilenceInterval {
	out := make([]SilenceInterval, len(points))
	for i, p := range points {
		out[i] = SilenceInterval{Start: p[0], End: p[1]}
	}
	return out
}

// nIntervals returns n one-second silences every ten seconds.
func nIntervals(n int) []SilenceInterval {
	out := make([]SilenceInterval, n)
	for i := range out {
		start := float64(i*10 + 5)
		out[i] = SilenceInterval{Start: start, End: start + 1}
	}
	return out
}
