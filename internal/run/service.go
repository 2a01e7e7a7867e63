package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/maauso/speechsplit/internal/audio"
	"github.com/maauso/speechsplit/internal/export"
	"github.com/maauso/speechsplit/internal/metadata"
	"github.com/maauso/speechsplit/internal/segment"
	"github.com/maauso/speechsplit/internal/storage"
)

// ErrSourceNotFound is returned when the source recording does not exist.
var ErrSourceNotFound = errors.New("source file not found")

const outputLockRetry = 50 * time.Millisecond

// Planner segments a source file.
type Planner interface {
	Plan(ctx context.Context, file string, opts segment.Options) (segment.Plan, error)
}

// ClipExporter writes the clips of a plan.
type ClipExporter interface {
	Export(ctx context.Context, file string, segs []segment.Segment, target export.Target) []export.Result
}

// Request describes one run. Zero values fall back to the service defaults.
type Request struct {
	// SourcePath is the recording to segment.
	SourcePath string
	// MinDuration and MaxDuration override the segment window, in seconds.
	MinDuration float64
	MaxDuration float64
	// SilenceThresh overrides the first-pass threshold in dBFS.
	SilenceThresh float64
	// MinSilenceMs overrides the first-pass minimum silence length.
	MinSilenceMs int
	// Publish uploads the clips and metadata when storage supports it.
	Publish bool
}

// Service orchestrates segmentation runs: plan, export, metadata and
// publishing. Runs are tracked in the repository.
type Service struct {
	repo     Repository
	planner  Planner
	exporter ClipExporter
	writer   *metadata.Writer
	storage  storage.Storage
	layout   metadata.Layout
	defaults segment.Options
	logger   *slog.Logger
}

// Config holds the collaborators of a Service.
type Config struct {
	Repository Repository
	Planner    Planner
	Exporter   ClipExporter
	Writer     *metadata.Writer
	Storage    storage.Storage
	Layout     metadata.Layout
	Defaults   segment.Options
	Logger     *slog.Logger
}

// NewService creates a new Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writer := cfg.Writer
	if writer == nil {
		writer = metadata.NewWriter(logger)
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Service{
		repo:     repo,
		planner:  cfg.Planner,
		exporter: cfg.Exporter,
		writer:   writer,
		storage:  cfg.Storage,
		layout:   cfg.Layout,
		defaults: cfg.Defaults,
		logger:   logger,
	}
}

// Options resolves the segmentation options for req.
func (s *Service) Options(req Request) segment.Options {
	opts := s.defaults
	if req.MinDuration > 0 {
		opts.Limits.Min = req.MinDuration
	}
	if req.MaxDuration > 0 {
		opts.Limits.Max = req.MaxDuration
	}
	if req.SilenceThresh != 0 {
		opts.Initial.ThresholdDB = req.SilenceThresh
	}
	if req.MinSilenceMs > 0 {
		opts.Initial.MinSilenceMs = req.MinSilenceMs
	}
	return opts
}

// Create validates req and stores a new QUEUED run.
func (s *Service) Create(ctx context.Context, req Request) (*Run, error) {
	info, err := os.Stat(req.SourcePath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, req.SourcePath)
	}
	opts := s.Options(req)
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}

	r := New(req.SourcePath)
	r.Limits = opts.Limits
	r.Initial = opts.Initial
	r.Publish = req.Publish

	s.logger.Info("creating new run",
		slog.String("run_id", r.ID),
		slog.String("source", r.Source),
		slog.Float64("min_duration", r.Limits.Min),
		slog.Float64("max_duration", r.Limits.Max),
		slog.Bool("publish", r.Publish),
	)

	if err := s.repo.Save(ctx, r); err != nil {
		s.logger.Error("failed to save run",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return r, nil
}

// Get retrieves a run by ID.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all runs, oldest first.
func (s *Service) List(ctx context.Context) ([]*Run, error) {
	return s.repo.List(ctx)
}

// Split creates a run for req and executes it synchronously.
func (s *Service) Split(ctx context.Context, req Request) (*Run, error) {
	r, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, r.ID)
}

// Execute processes a QUEUED run and returns its final state. The returned
// error is non-nil only for fatal failures, in which case the run is FAILED.
// Failed clips end the run as PARTIAL without an error.
func (s *Service) Execute(ctx context.Context, runID string) (*Run, error) {
	r, err := s.repo.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		return nil, fmt.Errorf("start run %s: %w", runID, err)
	}
	s.save(ctx, r)

	if err := s.process(ctx, r); err != nil {
		s.logger.Error("run failed",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		_ = r.Fail(err.Error())
		s.save(ctx, r)
		return r.Clone(), err
	}

	if err := r.Finish(); err != nil {
		return r.Clone(), err
	}
	s.save(ctx, r)

	s.logger.Info("run finished",
		slog.String("run_id", r.ID),
		slog.String("status", string(r.GetStatus())),
		slog.Int("clips", len(r.Artifacts.Clips)),
		slog.Int("failures", len(r.Failures)),
	)
	return r.Clone(), nil
}

func (s *Service) process(ctx context.Context, r *Run) error {
	workDir, err := s.storage.CreateWorkDir(ctx, "run")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		// cleanup must run even when ctx is already cancelled
		if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{workDir}); err != nil {
			s.logger.Warn("failed to remove work directory",
				slog.String("run_id", r.ID),
				slog.String("path", workDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	opts := s.defaults
	opts.Limits = r.Limits
	opts.Initial = r.Initial
	opts.WorkDir = workDir

	plan, err := s.planner.Plan(ctx, r.Source, opts)
	if err != nil {
		return err
	}
	r.SetPlan(plan)
	s.save(ctx, r)

	base := metadata.BaseName(r.Source)
	unlock, err := s.lockOutputs(ctx, r.ID, base)
	if err != nil {
		return err
	}
	defer unlock()

	clipDir := s.layout.ClipDir(base)
	s.removeStaleClips(ctx, r.ID, clipDir, base)

	results := s.exporter.Export(ctx, r.Source, plan.Segments, export.Target{
		Dir:     clipDir,
		Base:    base,
		Padding: export.PaddingFor(opts.Initial.MinSilenceMs),
	})

	artifacts := Artifacts{
		ClipDir:     clipDir,
		TablePath:   s.layout.TablePath(base),
		SidecarPath: s.layout.SidecarPath(base),
	}
	for _, res := range export.Succeeded(results) {
		artifacts.Clips = append(artifacts.Clips, res.OutputPath)
	}
	var failures []Failure
	for _, f := range export.Failures(results) {
		failures = append(failures, Failure{Path: f.Path, Message: f.Message})
	}

	if err := s.writer.WriteRun(ctx, artifacts.SidecarPath, s.writer.Run(plan)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := s.writer.WriteTable(ctx, artifacts.TablePath, results); err != nil {
		return fmt.Errorf("write clip table: %w", err)
	}
	r.SetArtifacts(artifacts, failures)

	if r.Publish {
		s.publish(ctx, r, base, artifacts)
	}
	return nil
}

// lockOutputs blocks until no other run writes the outputs of base. Two
// runs of the same recording share one clip directory.
func (s *Service) lockOutputs(ctx context.Context, runID, base string) (func(), error) {
	path := s.layout.RunLockPath(base)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, outputLockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock outputs of %s: %w", base, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock outputs of %s: not acquired", base)
	}
	s.logger.Debug("locked run outputs",
		slog.String("run_id", runID),
		slog.String("lock", path),
	)
	return func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release output lock",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}

// removeStaleClips deletes clips of base left by an earlier run so the clip
// directory only holds the current plan.
func (s *Service) removeStaleClips(ctx context.Context, runID, dir, base string) {
	stale, err := audio.ListSegments(dir, base)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to list previous clips",
				slog.String("run_id", runID),
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if len(stale) == 0 {
		return
	}
	if err := s.storage.CleanupTemp(ctx, stale); err != nil {
		s.logger.Warn("failed to remove previous clips",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("removed previous clips",
		slog.String("run_id", runID),
		slog.Int("count", len(stale)),
	)
}

// publish uploads every clip and both metadata files under <base>/. Upload
// failures are recorded on the run.
func (s *Service) publish(ctx context.Context, r *Run, base string, a Artifacts) {
	type object struct{ key, path string }
	objects := make([]object, 0, len(a.Clips)+2)
	for _, clip := range a.Clips {
		objects = append(objects, object{storage.ObjectKey(base, "split", filepath.Base(clip)), clip})
	}
	objects = append(objects,
		object{storage.ObjectKey(base, filepath.Base(a.TablePath)), a.TablePath},
		object{storage.ObjectKey(base, filepath.Base(a.SidecarPath)), a.SidecarPath},
	)

	for _, o := range objects {
		url, err := storage.PublishFile(ctx, s.storage, o.key, o.path)
		if err != nil {
			s.logger.Warn("failed to publish artifact",
				slog.String("run_id", r.ID),
				slog.String("key", o.key),
				slog.String("error", err.Error()),
			)
			r.AddPublishError(fmt.Sprintf("%s: %v", o.key, err))
			if errors.Is(err, storage.ErrS3NotConfigured) {
				return
			}
			continue
		}
		r.AddURL(url)
	}
	s.logger.Info("published artifacts",
		slog.String("run_id", r.ID),
		slog.Int("objects", len(objects)),
	)
}

func (s *Service) save(ctx context.Context, r *Run) {
	if err := s.repo.Save(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Error("failed to save run",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
}
