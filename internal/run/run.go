// Package run provides the Run aggregate for tracking segmentation runs and
// the Service that drives a source file through planning, export, metadata
// and optional publishing.
package run

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/speechsplit/internal/run/id"
	"github.com/maauso/speechsplit/internal/segment"
)

// Status represents the current state of a Run.
type Status string

const (
	// StatusQueued indicates the run is waiting to be processed.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the run is being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every clip was exported.
	StatusCompleted Status = "COMPLETED"
	// StatusPartial indicates the run finished with some failed clips.
	StatusPartial Status = "PARTIAL"
	// StatusFailed indicates the run stopped on a fatal error.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusPartial, StatusFailed},
	StatusCompleted: {},
	StatusPartial:   {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Failure is a clip that could not be exported.
type Failure struct {
	Path    string
	Message string
}

// Summary holds the counts of a finished plan.
type Summary struct {
	// TotalDuration is the probed source duration in seconds.
	TotalDuration float64
	// Params is the silence pair that produced the silences.
	Params segment.Params
	// Silences is the number of detected silences.
	Silences int
	// Segments is the number of planned segments.
	Segments int
	// Refined is the number of over-long spans that went through refinement.
	Refined int
	// Fallbacks is the number of refined spans sliced evenly.
	Fallbacks int
}

// Artifacts are the files produced by a run.
type Artifacts struct {
	ClipDir     string
	Clips       []string
	TablePath   string
	SidecarPath string
	// URLs are the published object URLs, when publishing was requested.
	URLs []string
}

// Run represents one segmentation of a source file.
type Run struct {
	mu sync.RWMutex

	// ID is the unique identifier for this run.
	ID string
	// Status is the current run state.
	Status Status
	// Source is the path of the source recording.
	Source string
	// Limits is the segment duration window used by the run.
	Limits segment.Limits
	// Initial is the first-pass silence pair used by the run.
	Initial segment.Params
	// Publish indicates whether artifacts are uploaded.
	Publish bool
	// Summary is set once the plan is built.
	Summary Summary
	// Segments are the planned clip ranges, in clip index order.
	Segments []segment.Segment
	// Artifacts lists the produced files.
	Artifacts Artifacts
	// Failures lists the clips that failed to export.
	Failures []Failure
	// PublishErrors lists upload failures; they never fail the run.
	PublishErrors []string
	// Error contains the fatal error message if the run failed.
	Error string
	// CreatedAt is when the run was created.
	CreatedAt time.Time
	// UpdatedAt is when the run was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Run with a generated ID and initial QUEUED status.
func New(source string) *Run {
	return NewWithID(id.Generate(), source)
}

// NewWithID creates a new Run with the specified ID and initial QUEUED status.
func NewWithID(runID, source string) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Status:    StatusQueued,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the run status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(status)
}

func (r *Run) transitionLocked(status Status) error {
	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}

	r.Status = status
	r.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		r.StartedAt = r.UpdatedAt
	case StatusCompleted, StatusPartial, StatusFailed:
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// Start transitions the run from QUEUED to RUNNING.
func (r *Run) Start() error {
	return r.TransitionTo(StatusRunning)
}

// Finish transitions the run to COMPLETED, or to PARTIAL when any clip failed.
func (r *Run) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Failures) > 0 {
		return r.transitionLocked(StatusPartial)
	}
	return r.transitionLocked(StatusCompleted)
}

// Fail transitions the run to FAILED state with an error message.
func (r *Run) Fail(errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Error = errMsg
	return r.transitionLocked(StatusFailed)
}

// GetStatus returns the current run status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// SetPlan records the summary of a segmentation plan.
func (r *Run) SetPlan(plan segment.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		TotalDuration: plan.TotalDuration,
		Params:        plan.Params,
		Silences:      len(plan.Silences),
		Segments:      len(plan.Segments),
		Refined:       len(plan.Refinements),
	}
	for _, ref := range plan.Refinements {
		if ref.Fallback {
			s.Fallbacks++
		}
	}
	r.Summary = s
	r.Segments = append([]segment.Segment(nil), plan.Segments...)
	r.UpdatedAt = time.Now()
}

// SetArtifacts records the produced files and the failed clips.
func (r *Run) SetArtifacts(a Artifacts, failures []Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Artifacts = a
	r.Failures = failures
	r.UpdatedAt = time.Now()
}

// AddURL records a published object URL.
func (r *Run) AddURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Artifacts.URLs = append(r.Artifacts.URLs, url)
	r.UpdatedAt = time.Now()
}

// AddPublishError records an upload failure.
func (r *Run) AddPublishError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PublishErrors = append(r.PublishErrors, msg)
	r.UpdatedAt = time.Now()
}

// IsTerminal returns true if the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status == StatusCompleted ||
		r.Status == StatusPartial ||
		r.Status == StatusFailed
}

// Clone creates a deep copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifacts := r.Artifacts
	artifacts.Clips = append([]string(nil), r.Artifacts.Clips...)
	artifacts.URLs = append([]string(nil), r.Artifacts.URLs...)

	return &Run{
		ID:            r.ID,
		Status:        r.Status,
		Source:        r.Source,
		Limits:        r.Limits,
		Initial:       r.Initial,
		Publish:       r.Publish,
		Summary:       r.Summary,
		Segments:      append([]segment.Segment(nil), r.Segments...),
		Artifacts:     artifacts,
		Failures:      append([]Failure(nil), r.Failures...),
		PublishErrors: append([]string(nil), r.PublishErrors...),
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}
