// Package recording provides the per-recording data model: the slice set
// produced by a successful run, the failure record written when a run fails,
// and the tri-state status derived from whichever record is on disk.
package recording

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/autoslicer/internal/audio"
)

// Status is the processing state of a recording, derived from its metadata
// record.
type Status string

const (
	// StatusUnprocessed indicates no metadata record exists yet.
	StatusUnprocessed Status = "unprocessed"
	// StatusSuccess indicates the record holds a slice set.
	StatusSuccess Status = "success"
	// StatusFailed indicates the record holds a failure, or cannot be decoded.
	StatusFailed Status = "failed"
)

// failureStatus is the status flag written into failure records.
const failureStatus = "error"

// SliceSummary describes one exported slice.
type SliceSummary struct {
	Index          int      `json:"index"`
	Path           string   `json:"path"`
	StartMs        float64  `json:"start_ms"`
	EndMs          float64  `json:"end_ms"`
	DurationMs     float64  `json:"duration_ms"`
	PeakAmplitude  int      `json:"peak_amplitude"`
	PeakDB         *float64 `json:"peak_db"`
	RMSDB          *float64 `json:"rms_db"`
	PeakNormalized float64  `json:"peak_normalized"`
}

// SliceSet is the result of processing one recording. It is also the on-disk
// success record.
type SliceSet struct {
	RecordingID   string         `json:"recording_id"`
	SourcePath    string         `json:"source_path"`
	ConvertedPath string         `json:"converted_path"`
	MetadataPath  string         `json:"metadata_path"`
	SampleRate    int            `json:"sample_rate"`
	Channels      int            `json:"channels"`
	SampleWidth   int            `json:"sample_width"`
	CreatedAt     time.Time      `json:"created_at"`
	Slices        []SliceSummary `json:"slices"`
}

// Format returns the PCM format the slices were exported in.
func (s *SliceSet) Format() audio.Format {
	return audio.Format{
		SampleRate:  s.SampleRate,
		Channels:    s.Channels,
		SampleWidth: s.SampleWidth,
	}
}

// SlicePaths returns the paths of all exported slice files, in order.
func (s *SliceSet) SlicePaths() []string {
	paths := make([]string, len(s.Slices))
	for i, sl := range s.Slices {
		paths[i] = sl.Path
	}
	return paths
}

// Failure is the on-disk record of a failed run.
type Failure struct {
	Status       string    `json:"status"`
	RecordingID  string    `json:"recording_id"`
	SourcePath   string    `json:"source_path"`
	MetadataPath string    `json:"metadata_path"`
	CreatedAt    time.Time `json:"created_at"`
	ErrorMessage string    `json:"error_message"`
}

// NewFailure creates a failure record with the status flag set.
func NewFailure(id, sourcePath, metadataPath, message string, createdAt time.Time) *Failure {
	return &Failure{
		Status:       failureStatus,
		RecordingID:  id,
		SourcePath:   sourcePath,
		MetadataPath: metadataPath,
		CreatedAt:    createdAt.UTC(),
		ErrorMessage: message,
	}
}

// Record is a recording's metadata as read from disk. Exactly one of SliceSet
// and Failure is set, unless Status is StatusUnprocessed.
type Record struct {
	ID       string
	Status   Status
	SliceSet *SliceSet
	Failure  *Failure
}

// ErrorMessage returns the failure message, or "" when the record is not a
// failure.
func (r *Record) ErrorMessage() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.ErrorMessage
}

// IDFromPath derives the recording identifier from a source path: the
// filename without its extension.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
