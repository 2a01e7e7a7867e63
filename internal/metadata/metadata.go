// Package metadata persists the outcome of a segmentation run: a JSON sidecar
// with the silences and segments, and a CSV table of the exported clips.
package metadata

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/maauso/speechsplit/internal/export"
	"github.com/maauso/speechsplit/internal/segment"
)

// TimestampLayout is the format of SegmentationRun.ProcessingTimestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000"

const lockName = ".speechsplit.lock"

// TableHeader is the header row of the clip table.
var TableHeader = []string{"audio_file", "start_time_seconds", "end_time_seconds", "duration_seconds"}

// Parameters records the duration window and the silence pair used by a run.
type Parameters struct {
	MinDuration   float64 `json:"min_duration"`
	MaxDuration   float64 `json:"max_duration"`
	SilenceThresh float64 `json:"silence_thresh"`
	MinSilenceLen int     `json:"min_silence_len"`
}

// Range is a [start, end) range with its duration, in seconds.
type Range struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// SegmentationRun is the JSON sidecar written for every processed file.
type SegmentationRun struct {
	Filename            string     `json:"filename"`
	TotalDuration       float64    `json:"total_duration"`
	ProcessingTimestamp string     `json:"processing_timestamp"`
	Parameters          Parameters `json:"parameters"`
	SilenceRanges       []Range    `json:"silence_ranges"`
	Segments            []Range    `json:"segments"`
}

// Writer writes sidecars and clip tables.
type Writer struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock used for processing timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a Writer. A nil logger falls back to slog.Default().
func NewWriter(logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run builds the sidecar for plan, stamped with the writer's clock. The
// recorded silence pair is the one that produced plan.Silences.
func (w *Writer) Run(plan segment.Plan) SegmentationRun {
	run := SegmentationRun{
		Filename:            filepath.Base(plan.Source),
		TotalDuration:       plan.TotalDuration,
		ProcessingTimestamp: w.now().Format(TimestampLayout),
		Parameters: Parameters{
			MinDuration:   plan.Limits.Min,
			MaxDuration:   plan.Limits.Max,
			SilenceThresh: plan.Params.ThresholdDB,
			MinSilenceLen: plan.Params.MinSilenceMs,
		},
		SilenceRanges: make([]Range, 0, len(plan.Silences)),
		Segments:      make([]Range, 0, len(plan.Segments)),
	}
	for _, s := range plan.Silences {
		run.SilenceRanges = append(run.SilenceRanges, Range{Start: s.Start, End: s.End, Duration: s.Duration()})
	}
	for _, s := range plan.Segments {
		run.Segments = append(run.Segments, Range{Start: s.Start, End: s.End, Duration: s.Duration()})
	}
	return run
}

// WriteRun writes run as indented JSON to path.
func (w *Writer) WriteRun(ctx context.Context, path string, run SegmentationRun) error {
	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode segmentation run: %w", err)
	}
	payload = append(payload, '\n')

	if err := w.write(ctx, path, payload); err != nil {
		return err
	}
	w.logger.Info("wrote segmentation metadata",
		slog.String("path", path),
		slog.Int("silences", len(run.SilenceRanges)),
		slog.Int("segments", len(run.Segments)),
	)
	return nil
}

// WriteTable writes one CSV row per successful export, sorted by start time.
// Clip paths are written relative to the directory of path.
func (w *Writer) WriteTable(ctx context.Context, path string, results []export.Result) error {
	ok := export.Succeeded(results)
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Segment.Start < ok[j].Segment.Start })

	dir := filepath.Dir(path)
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(TableHeader); err != nil {
		return fmt.Errorf("write table header: %w", err)
	}
	for _, r := range ok {
		rel, err := filepath.Rel(dir, r.OutputPath)
		if err != nil {
			rel = r.OutputPath
		}
		row := []string{
			filepath.ToSlash(rel),
			formatSeconds(r.Segment.Start),
			formatSeconds(r.Segment.End),
			formatSeconds(r.Segment.Duration()),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write table row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}

	if err := w.write(ctx, path, buf.Bytes()); err != nil {
		return err
	}
	w.logger.Info("wrote clip table",
		slog.String("path", path),
		slog.Int("rows", len(ok)),
	)
	return nil
}

// write replaces path atomically while holding the directory lock.
func (w *Writer) write(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", dir, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", dir)
	}
	defer func() { _ = lock.Unlock() }()

	return writeFileAtomic(path, data, 0644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
