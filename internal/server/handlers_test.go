package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/autoslicer/internal/audio"
	"github.com/maauso/autoslicer/internal/pipeline"
	"github.com/maauso/autoslicer/internal/recording"
)

// mockSlicer implements Slicer for testing.
type mockSlicer struct {
	mock.Mock
}

func (m *mockSlicer) DiscoverPending(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSlicer) DiscoverProcessed(ctx context.Context) ([]*recording.SliceSet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*recording.SliceSet), args.Error(1)
}

func (m *mockSlicer) ProcessPending(ctx context.Context, limit int) ([]*recording.SliceSet, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*recording.SliceSet), args.Error(1)
}

func (m *mockSlicer) ProcessRecording(ctx context.Context, sourcePath string) (*recording.SliceSet, error) {
	args := m.Called(ctx, sourcePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recording.SliceSet), args.Error(1)
}

func (m *mockSlicer) LoadSliceSet(ctx context.Context, id string) (*recording.SliceSet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recording.SliceSet), args.Error(1)
}

func (m *mockSlicer) LastError(id string) (string, bool) {
	args := m.Called(id)
	return args.String(0), args.Bool(1)
}

func (m *mockSlicer) SourcePath(id string) string {
	return "/in/" + id + ".m4a"
}

func newTestRouter(t *testing.T) (http.Handler, *mockSlicer) {
	t.Helper()
	slicer := &mockSlicer{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := DefaultConfig()
	cfg.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("autoslicer_slices_exported_total 0\n"))
	})
	return NewRouter(NewHandlers(slicer, logger), logger, cfg), slicer
}

// newLoggedRouter returns a router whose logs are captured as JSON lines.
func newLoggedRouter(t *testing.T) (http.Handler, *mockSlicer, *bytes.Buffer) {
	t.Helper()
	slicer := &mockSlicer{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRouter(NewHandlers(slicer, logger), logger, DefaultConfig()), slicer, &buf
}

// logEntries decodes captured JSON log lines with the given message.
func logEntries(t *testing.T, buf *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func serve(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func sampleSet(id string) *recording.SliceSet {
	return &recording.SliceSet{
		RecordingID: id,
		SampleRate:  44100,
		Channels:    1,
		SampleWidth: 2,
		Slices:      []recording.SliceSummary{{Index: 0, Path: "/out/" + id + "/slices/" + id + "_slice_01.wav"}},
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := serve(router, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autoslicer_slices_exported_total")
}

func TestListRecordings(t *testing.T) {
	t.Run("returns processed slice sets", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("DiscoverProcessed", mock.Anything).Return([]*recording.SliceSet{sampleSet("a"), sampleSet("b")}, nil)

		rec := serve(router, http.MethodGet, "/recordings", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp RecordingsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Recordings, 2)
		assert.Equal(t, "a", resp.Recordings[0].RecordingID)
		slicer.AssertExpectations(t)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("DiscoverProcessed", mock.Anything).Return(nil, nil)

		rec := serve(router, http.MethodGet, "/recordings", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"recordings": []}`, rec.Body.String())
	})

	t.Run("storage failure", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("DiscoverProcessed", mock.Anything).Return(nil, errors.New("disk gone"))

		rec := serve(router, http.MethodGet, "/recordings", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "LIST_FAILED", decodeError(t, rec).Code)
	})
}

func TestListPending(t *testing.T) {
	router, slicer := newTestRouter(t)
	slicer.On("DiscoverPending", mock.Anything).Return([]string{"/in/a.m4a", "/in/b.m4a"}, nil)

	rec := serve(router, http.MethodGet, "/recordings/pending", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending": ["/in/a.m4a", "/in/b.m4a"]}`, rec.Body.String())
	slicer.AssertNotCalled(t, "LoadSliceSet", mock.Anything, "pending")
}

func TestGetRecording(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LoadSliceSet", mock.Anything, "take1").Return(sampleSet("take1"), nil)

		rec := serve(router, http.MethodGet, "/recordings/take1", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var set recording.SliceSet
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&set))
		assert.Equal(t, "take1", set.RecordingID)
		assert.Len(t, set.Slices, 1)
	})

	t.Run("not processed", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LoadSliceSet", mock.Anything, "take1").Return(nil, fmt.Errorf("%w: take1", pipeline.ErrNotProcessed))

		rec := serve(router, http.MethodGet, "/recordings/take1", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "RECORDING_NOT_FOUND", decodeError(t, rec).Code)
	})

	t.Run("failed recording reports tracked error", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LoadSliceSet", mock.Anything, "bad").Return(nil, fmt.Errorf("%w: bad", pipeline.ErrRecordingFailed))
		slicer.On("LastError", "bad").Return("conversion failed: invalid data found while parsing input", true)

		rec := serve(router, http.MethodGet, "/recordings/bad", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "RECORDING_FAILED", resp.Code)
		assert.Equal(t, "conversion failed: invalid data found while parsing input", resp.Error)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		router, slicer := newTestRouter(t)

		rec := serve(router, http.MethodGet, "/recordings/..", nil)

		assert.NotEqual(t, http.StatusOK, rec.Code)
		slicer.AssertNotCalled(t, "LoadSliceSet", mock.Anything, mock.Anything)
	})
}

func TestLastErrorRoute(t *testing.T) {
	t.Run("most recent", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LastError", "").Return("conversion failed: unknown error", true)

		rec := serve(router, http.MethodGet, "/errors", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"error": "conversion failed: unknown error"}`, rec.Body.String())
	})

	t.Run("by recording", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LastError", "bad").Return("boom", true)

		rec := serve(router, http.MethodGet, "/errors?recording_id=bad", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"recording_id": "bad", "error": "boom"}`, rec.Body.String())
	})

	t.Run("none tracked", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("LastError", "").Return("", false)

		rec := serve(router, http.MethodGet, "/errors", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NO_ERROR", decodeError(t, rec).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := serve(router, http.MethodGet, "/errors?recording_id=a/b", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProcessPending(t *testing.T) {
	t.Run("with limit", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessPending", mock.Anything, 2).Return([]*recording.SliceSet{sampleSet("a")}, nil)

		rec := serve(router, http.MethodPost, "/recordings/process", []byte(`{"limit": 2}`))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp ProcessResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "a", resp.Processed[0].RecordingID)
		slicer.AssertExpectations(t)
	})

	t.Run("empty body means no limit", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessPending", mock.Anything, 0).Return(nil, nil)

		rec := serve(router, http.MethodPost, "/recordings/process", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"count": 0, "processed": []}`, rec.Body.String())
	})

	t.Run("invalid JSON", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := serve(router, http.MethodPost, "/recordings/process", []byte(`{"limit":`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
	})

	t.Run("limit out of range", func(t *testing.T) {
		router, slicer := newTestRouter(t)

		for _, body := range []string{`{"limit": -1}`, `{"limit": 1001}`} {
			rec := serve(router, http.MethodPost, "/recordings/process", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		}
		slicer.AssertNotCalled(t, "ProcessPending", mock.Anything, mock.Anything)
	})
}

func TestProcessRecording(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessRecording", mock.Anything, "/in/take1.m4a").Return(sampleSet("take1"), nil)

		rec := serve(router, http.MethodPost, "/recordings/take1/process", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"recording_id":"take1"`)
	})

	t.Run("source missing", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessRecording", mock.Anything, "/in/ghost.m4a").Return(nil, fmt.Errorf("%w: /in/ghost.m4a", audio.ErrNotFound))

		rec := serve(router, http.MethodPost, "/recordings/ghost/process", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "SOURCE_NOT_FOUND", decodeError(t, rec).Code)
	})

	t.Run("conversion failure", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		convErr := &audio.ConversionError{Summary: "moov atom not found (file appears incomplete or truncated)", Err: errors.New("exit status 1")}
		slicer.On("ProcessRecording", mock.Anything, "/in/bad.m4a").Return(nil, fmt.Errorf("convert bad: %w", convErr))

		rec := serve(router, http.MethodPost, "/recordings/bad/process", nil)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "CONVERSION_FAILED", resp.Code)
		assert.True(t, strings.HasPrefix(resp.Error, "conversion failed: moov atom not found"))
	})

	t.Run("encoder unavailable", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessRecording", mock.Anything, "/in/take1.m4a").
			Return(nil, fmt.Errorf("convert take1: %w: /opt/ffmpeg: no such file", audio.ErrEncoderUnavailable))

		rec := serve(router, http.MethodPost, "/recordings/take1/process", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "ENCODER_UNAVAILABLE", decodeError(t, rec).Code)
	})

	t.Run("other failure", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("ProcessRecording", mock.Anything, "/in/x.m4a").Return(nil, errors.New("disk full"))

		rec := serve(router, http.MethodPost, "/recordings/x/process", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("CORS preflight", func(t *testing.T) {
		router, _ := newTestRouter(t)
		req := httptest.NewRequest(http.MethodOptions, "/recordings", nil)
		req.Header.Set("Origin", "https://studio.example")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://studio.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("panic recovery", func(t *testing.T) {
		router, slicer := newTestRouter(t)
		slicer.On("DiscoverPending", mock.Anything).Run(func(mock.Arguments) { panic("boom") })

		rec := serve(router, http.MethodGet, "/recordings/pending", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
	})

	t.Run("CORS advertises only the methods the API serves", func(t *testing.T) {
		router, _ := newTestRouter(t)
		req := httptest.NewRequest(http.MethodOptions, "/recordings/process", nil)
		req.Header.Set("Origin", "https://studio.example")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("CORS ignores disallowed origins", func(t *testing.T) {
		router := NewRouter(NewHandlers(&mockSlicer{}, nil), slog.Default(), Config{AllowedOrigins: []string{"https://studio.example"}})
		req := httptest.NewRequest(http.MethodOptions, "/recordings", nil)
		req.Header.Set("Origin", "https://elsewhere.example")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request log carries route and recording", func(t *testing.T) {
		router, slicer, buf := newLoggedRouter(t)
		slicer.On("LoadSliceSet", mock.Anything, "take1").Return(sampleSet("take1"), nil)

		rec := serve(router, http.MethodGet, "/recordings/take1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		entries := logEntries(t, buf, "http request")
		require.Len(t, entries, 1)
		assert.Equal(t, "INFO", entries[0]["level"])
		assert.Equal(t, "GET /recordings/{id}", entries[0]["route"])
		assert.Equal(t, "take1", entries[0]["recording_id"])
		assert.Equal(t, float64(rec.Body.Len()), entries[0]["bytes"])
	})

	t.Run("request log picks recording from query", func(t *testing.T) {
		router, slicer, buf := newLoggedRouter(t)
		slicer.On("LastError", "bad").Return("bad: conversion failed: exit status 1", true)

		serve(router, http.MethodGet, "/errors?recording_id=bad", nil)

		entries := logEntries(t, buf, "http request")
		require.Len(t, entries, 1)
		assert.Equal(t, "bad", entries[0]["recording_id"])
	})

	t.Run("client errors log at warn and probes at debug", func(t *testing.T) {
		router, slicer, buf := newLoggedRouter(t)
		slicer.On("LoadSliceSet", mock.Anything, "ghost").Return(nil, pipeline.ErrNotProcessed)

		serve(router, http.MethodGet, "/recordings/ghost", nil)
		serve(router, http.MethodGet, "/health", nil)

		entries := logEntries(t, buf, "http request")
		require.Len(t, entries, 2)
		assert.Equal(t, "WARN", entries[0]["level"])
		assert.Equal(t, "DEBUG", entries[1]["level"])
	})

	t.Run("panic log names the recording", func(t *testing.T) {
		router, slicer, buf := newLoggedRouter(t)
		slicer.On("ProcessRecording", mock.Anything, "/in/take1.m4a").Run(func(mock.Arguments) { panic("boom") })

		rec := serve(router, http.MethodPost, "/recordings/take1/process", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		entries := logEntries(t, buf, "panic recovered")
		require.Len(t, entries, 1)
		assert.Equal(t, "take1", entries[0]["recording_id"])
		assert.Equal(t, "boom", entries[0]["error"])
	})

	t.Run("unknown method", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := serve(router, http.MethodDelete, "/recordings/take1", nil)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/recordings", http.StatusOK, slog.LevelInfo},
		{"/health", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/recordings/x", http.StatusNotFound, slog.LevelWarn},
		{"/health", http.StatusServiceUnavailable, slog.LevelError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, requestLevel(tt.path, tt.status), "%s %d", tt.path, tt.status)
	}
}
