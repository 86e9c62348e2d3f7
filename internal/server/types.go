// Package server provides the HTTP control surface for the slicer.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/maauso/autoslicer/internal/recording"

// ProcessRequest is the HTTP request body for processing pending recordings.
type ProcessRequest struct {
	// Limit caps the number of successful recordings; 0 means no limit.
	Limit int `json:"limit" validate:"min=0,max=1000"`
}

// ProcessResponse lists the slice sets produced by a processing request.
type ProcessResponse struct {
	// Count is the number of recordings processed successfully.
	Count int `json:"count"`
	// Processed holds the resulting slice sets.
	Processed []*recording.SliceSet `json:"processed"`
}

// RecordingsResponse lists processed recordings.
type RecordingsResponse struct {
	Recordings []*recording.SliceSet `json:"recordings"`
}

// PendingResponse lists source recordings awaiting processing.
type PendingResponse struct {
	Pending []string `json:"pending"`
}

// LastErrorResponse reports a tracked processing error.
type LastErrorResponse struct {
	// RecordingID is set when the error was requested for one recording.
	RecordingID string `json:"recording_id,omitempty"`
	// Error is the tracked error message.
	Error string `json:"error"`
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
