// Package server provides the HTTP API for speechsplit runs.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/speechsplit/internal/run"
)

// CreateRunRequest is the HTTP request body for creating a new run.
// Omitted numeric fields fall back to the configured defaults.
type CreateRunRequest struct {
	// SourcePath is the path of the recording on the server.
	SourcePath string `json:"source_path" validate:"required"`
	// MinDuration is the minimum segment length in seconds.
	MinDuration float64 `json:"min_duration,omitempty" validate:"omitempty,gt=0"`
	// MaxDuration is the maximum segment length in seconds.
	MaxDuration float64 `json:"max_duration,omitempty" validate:"omitempty,gt=0,gtefield=MinDuration"`
	// SilenceThresh is the first-pass silence threshold in dBFS.
	SilenceThresh float64 `json:"silence_thresh,omitempty" validate:"omitempty,lt=0"`
	// MinSilenceLen is the first-pass minimum silence length in milliseconds.
	MinSilenceLen int `json:"min_silence_len,omitempty" validate:"omitempty,gt=0"`
	// Publish uploads clips and metadata when S3 is configured.
	Publish bool `json:"publish"`
}

// CreateRunResponse is the HTTP response after creating a run.
type CreateRunResponse struct {
	// ID is the unique identifier for the created run.
	ID string `json:"id"`
	// Status is the initial run status.
	Status string `json:"status"`
}

// FailureResponse describes a clip that could not be exported.
type FailureResponse struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// RangeResponse is one planned clip range in seconds.
type RangeResponse struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// RunResponse is the HTTP response for getting run details.
type RunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Source string `json:"source"`

	MinDuration   float64 `json:"min_duration"`
	MaxDuration   float64 `json:"max_duration"`
	SilenceThresh float64 `json:"silence_thresh"`
	MinSilenceLen int     `json:"min_silence_len"`

	// Populated once the plan is built.
	TotalDuration float64 `json:"total_duration,omitempty"`
	Silences      int     `json:"silences"`
	Segments      int     `json:"segments"`
	Refined       int     `json:"refined"`
	Fallbacks     int     `json:"fallbacks"`

	Ranges []RangeResponse `json:"ranges,omitempty"`

	ClipDir       string            `json:"clip_dir,omitempty"`
	Clips         []string          `json:"clips,omitempty"`
	TablePath     string            `json:"table_path,omitempty"`
	SidecarPath   string            `json:"sidecar_path,omitempty"`
	URLs          []string          `json:"urls,omitempty"`
	Failures      []FailureResponse `json:"failures,omitempty"`
	PublishErrors []string          `json:"publish_errors,omitempty"`
	Error         string            `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListRunsResponse is the HTTP response for listing runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newRunResponse(r *run.Run) RunResponse {
	resp := RunResponse{
		ID:            r.ID,
		Status:        string(r.Status),
		Source:        r.Source,
		MinDuration:   r.Limits.Min,
		MaxDuration:   r.Limits.Max,
		SilenceThresh: r.Initial.ThresholdDB,
		MinSilenceLen: r.Initial.MinSilenceMs,
		TotalDuration: r.Summary.TotalDuration,
		Silences:      r.Summary.Silences,
		Segments:      r.Summary.Segments,
		Refined:       r.Summary.Refined,
		Fallbacks:     r.Summary.Fallbacks,
		ClipDir:       r.Artifacts.ClipDir,
		Clips:         r.Artifacts.Clips,
		TablePath:     r.Artifacts.TablePath,
		SidecarPath:   r.Artifacts.SidecarPath,
		URLs:          r.Artifacts.URLs,
		PublishErrors: r.PublishErrors,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
	for _, seg := range r.Segments {
		resp.Ranges = append(resp.Ranges, RangeResponse{Start: seg.Start, End: seg.End, Duration: seg.Duration()})
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, FailureResponse{Path: f.Path, Message: f.Message})
	}
	if !r.CompletedAt.IsZero() {
		completed := r.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}
