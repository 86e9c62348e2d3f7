package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/autoslicer/internal/audio"
	"github.com/maauso/autoslicer/internal/pipeline"
	"github.com/maauso/autoslicer/internal/recording"
)

// recordingIDRule keeps identifiers inside the input and output roots.
const recordingIDRule = `required,max=255,ne=.,ne=..,excludesall=/\`

// Slicer is the pipeline surface the handlers drive.
// *pipeline.Controller implements it.
type Slicer interface {
	DiscoverPending(ctx context.Context) ([]string, error)
	DiscoverProcessed(ctx context.Context) ([]*recording.SliceSet, error)
	ProcessPending(ctx context.Context, limit int) ([]*recording.SliceSet, error)
	ProcessRecording(ctx context.Context, sourcePath string) (*recording.SliceSet, error)
	LoadSliceSet(ctx context.Context, id string) (*recording.SliceSet, error)
	LastError(id string) (string, bool)
	SourcePath(id string) string
}

var _ Slicer = (*pipeline.Controller)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	slicer    Slicer
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(slicer Slicer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		slicer:    slicer,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListRecordings handles GET /recordings requests.
func (h *Handlers) ListRecordings(w http.ResponseWriter, r *http.Request) {
	sets, err := h.slicer.DiscoverProcessed(r.Context())
	if err != nil {
		h.logger.Error("failed to list recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list recordings", "LIST_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, RecordingsResponse{Recordings: nonNil(sets)})
}

// ListPending handles GET /recordings/pending requests.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.slicer.DiscoverPending(r.Context())
	if err != nil {
		h.logger.Error("failed to discover pending recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to discover pending recordings", "DISCOVERY_FAILED")
		return
	}
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, PendingResponse{Pending: pending})
}

// GetRecording handles GET /recordings/{id} requests.
func (h *Handlers) GetRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordingID(w, r)
	if !ok {
		return
	}

	set, err := h.slicer.LoadSliceSet(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, set)
	case errors.Is(err, pipeline.ErrNotProcessed):
		writeError(w, http.StatusNotFound, "recording not processed", "RECORDING_NOT_FOUND")
	case errors.Is(err, pipeline.ErrRecordingFailed):
		msg, _ := h.slicer.LastError(id)
		writeError(w, http.StatusUnprocessableEntity, msg, "RECORDING_FAILED")
	default:
		h.logger.Error("failed to load recording",
			slog.String("recording_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load recording", "RECORDING_FETCH_FAILED")
	}
}

// LastError handles GET /errors requests. The optional recording_id query
// parameter selects one recording; otherwise the most recent error is
// returned.
func (h *Handlers) LastError(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("recording_id")
	if id != "" {
		if err := h.validator.Var(id, recordingIDRule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid recording ID", "INVALID_RECORDING_ID")
			return
		}
	}

	msg, ok := h.slicer.LastError(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no error tracked", "NO_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, LastErrorResponse{RecordingID: id, Error: msg})
}

// ProcessPending handles POST /recordings/process requests.
// An empty body processes every pending recording.
func (h *Handlers) ProcessPending(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	sets, err := h.slicer.ProcessPending(r.Context(), req.Limit)
	if err != nil {
		h.logger.Error("failed to process pending recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to process pending recordings", "PROCESSING_FAILED")
		return
	}

	sets = nonNil(sets)
	writeJSON(w, http.StatusOK, ProcessResponse{Count: len(sets), Processed: sets})
}

// ProcessRecording handles POST /recordings/{id}/process requests.
func (h *Handlers) ProcessRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := h.recordingID(w, r)
	if !ok {
		return
	}

	set, err := h.slicer.ProcessRecording(r.Context(), h.slicer.SourcePath(id))
	if err != nil {
		var convErr *audio.ConversionError
		switch {
		case errors.Is(err, audio.ErrNotFound):
			writeError(w, http.StatusNotFound, "source recording not found", "SOURCE_NOT_FOUND")
		case errors.As(err, &convErr):
			writeError(w, http.StatusUnprocessableEntity, convErr.Error(), "CONVERSION_FAILED")
		case errors.Is(err, audio.ErrEncoderUnavailable):
			h.logger.Error("encoder unavailable", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "audio encoder unavailable", "ENCODER_UNAVAILABLE")
		default:
			h.logger.Error("failed to process recording",
				slog.String("recording_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to process recording", "PROCESSING_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusOK, set)
}

// recordingID extracts and validates the {id} path value.
func (h *Handlers) recordingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := h.validator.Var(id, recordingIDRule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid recording ID", "INVALID_RECORDING_ID")
		return "", false
	}
	return id, true
}

func nonNil(sets []*recording.SliceSet) []*recording.SliceSet {
	if sets == nil {
		return []*recording.SliceSet{}
	}
	return sets
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
