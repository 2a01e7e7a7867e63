// Package export writes the clips of a segmentation plan to disk on a
// bounded worker pool. A failing clip is recorded and never stops its
// siblings.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/maauso/speechsplit/internal/segment"
)

// Status is the outcome of one clip export.
type Status string

const (
	// StatusSuccess indicates the clip was written.
	StatusSuccess Status = "success"
	// StatusFailure indicates the extraction provider failed for the clip.
	StatusFailure Status = "failure"
)

// ExportFailure describes a clip that could not be written.
type ExportFailure struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (f *ExportFailure) Error() string {
	return fmt.Sprintf("export %s: %s", filepath.Base(f.Path), f.Message)
}

// Result is the outcome of exporting one segment.
type Result struct {
	Index      int
	Segment    segment.Segment
	OutputPath string
	Status     Status
	// Err is an *ExportFailure when Status is StatusFailure.
	Err error
}

// OK reports whether the clip was written.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Target describes where and how clips are written.
type Target struct {
	// Dir is the output directory.
	Dir string
	// Base is the clip name prefix, normally the source base name.
	Base string
	// Ext is the clip extension including the dot. Default: ".ogg".
	Ext string
	// Padding is added to the duration of every clip, in seconds.
	Padding float64
}

// PaddingFor returns the clip tail padding for a minimum silence length:
// half of it, in seconds.
func PaddingFor(minSilenceMs int) float64 {
	return float64(minSilenceMs) / 2000.0
}

// Path returns the output path of clip i.
func (t Target) Path(i int) string {
	ext := t.Ext
	if ext == "" {
		ext = ".ogg"
	}
	return filepath.Join(t.Dir, fmt.Sprintf("%s_segment_%03d%s", t.Base, i, ext))
}

// Exporter dispatches clip extraction over a worker pool.
type Exporter struct {
	extractor  segment.Extractor
	maxWorkers int
	logger     *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMaxWorkers caps the pool size. Zero or negative leaves it uncapped.
func WithMaxWorkers(n int) Option {
	return func(e *Exporter) {
		e.maxWorkers = n
	}
}

// New creates an Exporter. A nil logger falls back to slog.Default().
func New(extractor segment.Extractor, logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{extractor: extractor, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PoolSize returns the number of workers used for n clips:
// min(2 x NumCPU, n), at least 1, and at most the configured cap.
func (e *Exporter) PoolSize(n int) int {
	size := 2 * runtime.NumCPU()
	if n < size {
		size = n
	}
	if e.maxWorkers > 0 && e.maxWorkers < size {
		size = e.maxWorkers
	}
	if size < 1 {
		size = 1
	}
	return size
}

type job struct {
	index int
	seg   segment.Segment
}

// Export writes one clip per segment and returns one Result per segment,
// sorted by index. Failures are recorded on their Result; a cancelled ctx
// fails the clips not yet started.
func (e *Exporter) Export(ctx context.Context, file string, segs []segment.Segment, target Target) []Result {
	if len(segs) == 0 {
		return nil
	}

	workers := e.PoolSize(len(segs))
	e.logger.Info("exporting segments",
		slog.String("file", file),
		slog.Int("segments", len(segs)),
		slog.Int("workers", workers),
		slog.Float64("padding", target.Padding),
	)

	jobs := make(chan job)
	results := make(chan Result, len(segs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- e.exportOne(ctx, file, j, target)
			}
		}()
	}

	for i, s := range segs {
		jobs <- job{index: i, seg: s}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(segs))
	for r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	failed := len(Failures(out))
	e.logger.Info("export finished",
		slog.String("file", file),
		slog.Int("succeeded", len(out)-failed),
		slog.Int("failed", failed),
	)
	return out
}

func (e *Exporter) exportOne(ctx context.Context, file string, j job, target Target) Result {
	path := target.Path(j.index)
	res := Result{Index: j.index, Segment: j.seg, OutputPath: path, Status: StatusSuccess}

	var err error
	if err = ctx.Err(); err == nil {
		err = e.extractor.Extract(ctx, file, j.seg.Start, j.seg.Duration()+target.Padding, path)
	}
	if err != nil {
		res.Status = StatusFailure
		res.Err = &ExportFailure{Path: path, Message: err.Error()}
		e.logger.Warn("segment export failed",
			slog.Int("index", j.index),
			slog.String("range", j.seg.String()),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return res
}

// Succeeded returns the successful results in order.
func Succeeded(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failures returns the failure of every unsuccessful result in order.
func Failures(results []Result) []*ExportFailure {
	var out []*ExportFailure
	for _, r := range results {
		if r.OK() {
			continue
		}
		if f, ok := r.Err.(*ExportFailure); ok {
			out = append(out, f)
		} else {
			out = append(out, &ExportFailure{Path: r.OutputPath, Message: fmt.Sprint(r.Err)})
		}
	}
	return out
}
