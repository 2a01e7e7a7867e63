package run

import (
	"testing"
	"time"

	"github.com/maauso/speechsplit/internal/segment"
)

func TestNew(t *testing.T) {
	run := New("/data/talk.wav")

	if run.ID == "" {
		t.Error("expected run to have an ID")
	}
	if run.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, run.Status)
	}
	if run.Source != "/data/talk.wav" {
		t.Errorf("expected source /data/talk.wav, got %s", run.Source)
	}
	if run.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if run.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-run-123"
	run := NewWithID(id, "talk.wav")

	if run.ID != id {
		t.Errorf("expected ID %s, got %s", id, run.ID)
	}
	if run.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, run.Status)
	}
}

func TestRun_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// Valid transitions from QUEUED
		{"QUEUED to RUNNING", StatusQueued, StatusRunning, false},
		{"QUEUED to FAILED", StatusQueued, StatusFailed, false},
		// Valid transitions from RUNNING
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to PARTIAL", StatusRunning, StatusPartial, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		// Invalid transitions
		{"QUEUED to COMPLETED", StatusQueued, StatusCompleted, true},
		{"QUEUED to PARTIAL", StatusQueued, StatusPartial, true},
		{"RUNNING to QUEUED", StatusRunning, StatusQueued, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"PARTIAL to COMPLETED", StatusPartial, StatusCompleted, true},
		{"FAILED to RUNNING", StatusFailed, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewWithID("test", "talk.wav")
			run.Status = tt.from

			err := run.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestRun_Start(t *testing.T) {
	run := New("talk.wav")
	beforeStart := time.Now()

	err := run.Start()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, run.Status)
	}
	if run.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt to be set after test start")
	}
}

func TestRun_Finish(t *testing.T) {
	t.Run("without failures completes", func(t *testing.T) {
		run := New("talk.wav")
		_ = run.Start()

		if err := run.Finish(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if run.Status != StatusCompleted {
			t.Errorf("expected status %s, got %s", StatusCompleted, run.Status)
		}
		if run.CompletedAt.IsZero() {
			t.Error("expected CompletedAt to be set")
		}
	})

	t.Run("with failures is partial", func(t *testing.T) {
		run := New("talk.wav")
		_ = run.Start()
		run.SetArtifacts(Artifacts{}, []Failure{{Path: "talk_segment_002.ogg", Message: "boom"}})

		if err := run.Finish(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if run.Status != StatusPartial {
			t.Errorf("expected status %s, got %s", StatusPartial, run.Status)
		}
	})

	t.Run("queued run cannot finish", func(t *testing.T) {
		run := New("talk.wav")
		if err := run.Finish(); err != ErrInvalidTransition {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestRun_Fail(t *testing.T) {
	run := New("talk.wav")
	_ = run.Start()

	errMsg := "probe duration failed"
	err := run.Fail(errMsg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, run.Status)
	}
	if run.Error != errMsg {
		t.Errorf("expected error %q, got %q", errMsg, run.Error)
	}
	if run.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on failure")
	}
}

func TestRun_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusCompleted, StatusPartial, StatusFailed}
	allStates := []Status{StatusQueued, StatusRunning, StatusCompleted, StatusPartial, StatusFailed}

	for _, terminal := range terminalStates {
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				run := NewWithID("test", "talk.wav")
				run.Status = terminal

				err := run.TransitionTo(target)
				if err != ErrInvalidTransition {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestRun_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusPartial, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			run := NewWithID("test", "talk.wav")
			run.Status = tt.status

			if got := run.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestRun_SetPlan(t *testing.T) {
	run := New("talk.wav")
	run.SetPlan(segment.Plan{
		TotalDuration: 120,
		Params:        segment.Params{ThresholdDB: -40, MinSilenceMs: 500},
		Silences:      make([]segment.SilenceInterval, 7),
		Segments:      make([]segment.Segment, 9),
		Refinements: []segment.Refinement{
			{Fallback: false},
			{Fallback: true},
		},
	})

	want := Summary{
		TotalDuration: 120,
		Params:        segment.Params{ThresholdDB: -40, MinSilenceMs: 500},
		Silences:      7,
		Segments:      9,
		Refined:       2,
		Fallbacks:     1,
	}
	if run.Summary != want {
		t.Errorf("Summary = %+v, want %+v", run.Summary, want)
	}
	if len(run.Segments) != 9 {
		t.Errorf("expected 9 segments, got %d", len(run.Segments))
	}
}

func TestRun_Clone(t *testing.T) {
	run := New("talk.wav")
	_ = run.Start()
	run.SetPlan(segment.Plan{Segments: []segment.Segment{{Start: 0, End: 4}}})
	run.SetArtifacts(Artifacts{Clips: []string{"a.ogg", "b.ogg"}}, []Failure{{Path: "c.ogg", Message: "boom"}})
	run.AddURL("https://example.com/a.ogg")
	run.AddPublishError("c.ogg: boom")

	clone := run.Clone()

	// Verify clone has same values
	if clone.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, clone.ID)
	}
	if clone.Status != run.Status {
		t.Errorf("expected Status %s, got %s", run.Status, clone.Status)
	}

	// Verify clone is independent
	clone.Status = StatusCompleted
	if run.Status == StatusCompleted {
		t.Error("modifying clone should not affect original")
	}

	clone.Artifacts.Clips[0] = "changed.ogg"
	clone.Artifacts.URLs[0] = "changed"
	clone.Failures[0].Message = "changed"
	clone.PublishErrors[0] = "changed"
	clone.Segments[0].End = 99
	if run.Artifacts.Clips[0] != "a.ogg" || run.Artifacts.URLs[0] == "changed" ||
		run.Failures[0].Message != "boom" || run.PublishErrors[0] == "changed" ||
		run.Segments[0].End != 4 {
		t.Error("modifying clone slices should not affect original")
	}
}

func TestRun_GetStatus_ThreadSafe(t *testing.T) {
	run := New("talk.wav")

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = run.GetStatus()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = run.Start()
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}
