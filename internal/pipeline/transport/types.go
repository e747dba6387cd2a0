// Package transport provides HTTP request/response types for pipeline runs.
package transport

import (
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/pipeline"
)

// Frame types sent on the stream endpoint.
const (
	FrameEvent  = "event"
	FrameStatus = "status"
	FrameDone   = "done"
	FrameError  = "error"
)

// RunResponse is the body returned by POST /pipeline.
type RunResponse struct {
	ID       string            `json:"id"`
	Status   pipeline.Status   `json:"status"`
	Statuses []pipeline.Status `json:"statuses"`
	Events   []events.Event    `json:"events"`
	Logs     []string          `json:"logs"`
}

// Frame is one server message on the stream endpoint. Exactly one of the
// payload fields is set, matching Type.
type Frame struct {
	Type   string           `json:"type"`
	ID     string           `json:"id,omitempty"`
	Event  *events.Event    `json:"event,omitempty"`
	Status *pipeline.Status `json:"status,omitempty"`
	Error  *ErrorDetail     `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
