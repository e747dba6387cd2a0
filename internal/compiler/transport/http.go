// Package transport provides HTTP handlers for the compiler.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/polybuilder/polybuilder/internal/compiler"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/validation"
)

// Compiler compiles Solidity sources.
type Compiler interface {
	Compile(ctx context.Context, files []compiler.SourceFile, sink events.Sink) *compiler.Result
}

// CompileRequest is the HTTP request body for compiling sources.
type CompileRequest struct {
	Files []compiler.SourceFile `json:"files" validate:"required,min=1,dive"`
}

// CompileResponse is the response for a compilation.
type CompileResponse struct {
	*compiler.Result
	Logs []string `json:"logs"`
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

// Handler handles HTTP requests for compilation.
type Handler struct {
	compiler Compiler
}

// NewHandler creates a new compile HTTP handler.
func NewHandler(c Compiler) *Handler {
	return &Handler{compiler: c}
}

// RegisterWriteRoutes registers the compile route (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/compile", h.handleCompile)
}

func (h *Handler) handleCompile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req CompileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: files array required")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: "+err.Error())
		return
	}

	rec := events.NewRecorder()
	result := h.compiler.Compile(r.Context(), req.Files, rec)

	writeJSON(w, http.StatusOK, CompileResponse{Result: result, Logs: rec.Lines()})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
