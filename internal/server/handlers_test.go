package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechsplit/internal/export"
	"github.com/maauso/speechsplit/internal/metadata"
	"github.com/maauso/speechsplit/internal/run"
	"github.com/maauso/speechsplit/internal/segment"
	"github.com/maauso/speechsplit/internal/storage"
)

// mockPlanner implements run.Planner for testing.
type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) Plan(ctx context.Context, file string, opts segment.Options) (segment.Plan, error) {
	args := m.Called(ctx, file, opts)
	return args.Get(0).(segment.Plan), args.Error(1)
}

// fileExtractor writes a placeholder clip for every segment.
type fileExtractor struct{}

func (fileExtractor) Extract(_ context.Context, _ string, _, _ float64, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0750); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("OggS"), 0600)
}

type testEnv struct {
	source  string
	planner *mockPlanner
	service *run.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	source := filepath.Join(root, "lecture.wav")
	require.NoError(t, os.WriteFile(source, []byte("RIFF"), 0600))

	st, err := storage.NewLocalStorage(filepath.Join(root, "work"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	planner := &mockPlanner{}
	svc := run.NewService(run.Config{
		Planner:  planner,
		Exporter: export.New(fileExtractor{}, logger),
		Writer:   metadata.NewWriter(logger),
		Storage:  st,
		Layout:   metadata.Layout{Root: filepath.Join(root, "result")},
		Defaults: segment.DefaultOptions(),
		Logger:   logger,
	})
	return &testEnv{source: source, planner: planner, service: svc}
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Disable async processing by default to keep runs QUEUED
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	return NewHandlers(env.service, logger, opts...), env
}

func lecturePlan(source string) segment.Plan {
	return segment.Plan{
		Source:        source,
		TotalDuration: 20,
		Limits:        segment.Limits{Min: 2, Max: 15},
		Params:        segment.Params{ThresholdDB: -35, MinSilenceMs: 700},
		Silences:      []segment.SilenceInterval{{Start: 9, End: 10}},
		Segments:      []segment.Segment{{Start: 0, End: 9}, {Start: 10, End: 20}},
	}
}

func postRun(t *testing.T, h *Handlers, body any) *httptest.ResponseRecorder {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateRun(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateRun_Success(t *testing.T) {
	h, env := newTestHandlers(t)

	rec := postRun(t, h, CreateRunRequest{SourcePath: env.source, MaxDuration: 12})

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateRunResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "QUEUED", resp.Status)

	stored, err := env.service.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, segment.Limits{Min: 2, Max: 12}, stored.Limits)
}

func TestCreateRun_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateRun(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateRun_ValidationErrors(t *testing.T) {
	h, env := newTestHandlers(t)

	tests := []struct {
		name string
		body CreateRunRequest
	}{
		{"missing source", CreateRunRequest{}},
		{"negative min duration", CreateRunRequest{SourcePath: env.source, MinDuration: -1}},
		{"max below min", CreateRunRequest{SourcePath: env.source, MinDuration: 10, MaxDuration: 5}},
		{"positive threshold", CreateRunRequest{SourcePath: env.source, SilenceThresh: 10}},
		{"negative silence length", CreateRunRequest{SourcePath: env.source, MinSilenceLen: -100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRun(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			err := json.NewDecoder(rec.Body).Decode(&resp)
			require.NoError(t, err)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		})
	}
}

func TestCreateRun_SourceNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postRun(t, h, CreateRunRequest{SourcePath: filepath.Join(t.TempDir(), "missing.wav")})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "SOURCE_NOT_FOUND", resp.Code)
}

func TestCreateRun_InvalidLimitsAgainstDefaults(t *testing.T) {
	h, env := newTestHandlers(t)

	// min alone passes request validation but exceeds the default max of 15
	rec := postRun(t, h, CreateRunRequest{SourcePath: env.source, MinDuration: 20})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_LIMITS", resp.Code)
}

func TestCreateRun_ProcessesInBackground(t *testing.T) {
	h, env := newTestHandlers(t, WithAsyncProcessing(true))
	env.planner.On("Plan", mock.Anything, env.source, mock.Anything).Return(lecturePlan(env.source), nil)

	rec := postRun(t, h, CreateRunRequest{SourcePath: env.source})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateRunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	require.Eventually(t, func() bool {
		found, err := env.service.Get(context.Background(), resp.ID)
		return err == nil && found.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	found, err := env.service.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, found.Status)
	assert.Len(t, found.Artifacts.Clips, 2)
}

func TestGetRun_Success(t *testing.T) {
	h, env := newTestHandlers(t)
	env.planner.On("Plan", mock.Anything, env.source, mock.Anything).Return(lecturePlan(env.source), nil)

	finished, err := env.service.Split(context.Background(), run.Request{SourcePath: env.source})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/runs/"+finished.ID, nil)
	req.SetPathValue("id", finished.ID)
	rec := httptest.NewRecorder()

	h.GetRun(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	err = json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, finished.ID, resp.ID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 20.0, resp.TotalDuration)
	assert.Equal(t, 1, resp.Silences)
	assert.Equal(t, 2, resp.Segments)
	assert.Len(t, resp.Clips, 2)
	assert.Equal(t, []RangeResponse{{Start: 0, End: 9, Duration: 9}, {Start: 10, End: 20, Duration: 10}}, resp.Ranges)
	assert.NotEmpty(t, resp.TablePath)
	assert.NotEmpty(t, resp.SidecarPath)
	assert.Empty(t, resp.Failures)
	require.NotNil(t, resp.CompletedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	missing := "run-20240101T000000-deadbeef"
	req := httptest.NewRequest(http.MethodGet, "/runs/"+missing, nil)
	req.SetPathValue("id", missing)
	rec := httptest.NewRecorder()

	h.GetRun(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "RUN_NOT_FOUND", resp.Code)
}

func TestGetRun_MalformedID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/job-42", nil)
	req.SetPathValue("id", "job-42")
	rec := httptest.NewRecorder()

	h.GetRun(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_RUN_ID", resp.Code)
}

func TestGetRun_MissingID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/", nil)
	rec := httptest.NewRecorder()

	h.GetRun(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "MISSING_RUN_ID", resp.Code)
}

func TestListRuns(t *testing.T) {
	h, env := newTestHandlers(t)

	t.Run("empty list is an array", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rec := httptest.NewRecorder()

		h.ListRuns(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
	})

	t.Run("lists created runs", func(t *testing.T) {
		for range 2 {
			require.Equal(t, http.StatusAccepted, postRun(t, h, CreateRunRequest{SourcePath: env.source}).Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rec := httptest.NewRecorder()

		h.ListRuns(rec, req)

		var resp ListRunsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Runs, 2)
		for _, r := range resp.Runs {
			assert.Equal(t, "QUEUED", r.Status)
			assert.Nil(t, r.CompletedAt)
		}
	})
}

func TestRouter_Integration(t *testing.T) {
	h, env := newTestHandlers(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	router := NewRouter(h, logger)

	t.Run("health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})

	t.Run("create then get", func(t *testing.T) {
		body, err := json.Marshal(CreateRunRequest{SourcePath: env.source})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

		var created CreateRunResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

		req = httptest.NewRequest(http.MethodGet, "/runs/"+created.ID, nil)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/runs", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Empty(t, RequestIDFrom(context.Background()))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}
