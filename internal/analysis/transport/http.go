// Package transport provides the HTTP handler for contract analysis.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/polybuilder/polybuilder/internal/analysis"
)

// Analyzer reviews contract source.
type Analyzer interface {
	Analyze(ctx context.Context, code string) (*analysis.Report, error)
}

// AnalyzeRequest is the HTTP request body for an analysis.
type AnalyzeRequest struct {
	Code string `json:"code"`
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

// Handler handles HTTP requests for analysis.
type Handler struct {
	svc Analyzer
}

// NewHandler creates a new analysis HTTP handler.
func NewHandler(svc Analyzer) *Handler {
	return &Handler{svc: svc}
}

// RegisterWriteRoutes registers routes that spend model quota (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	report, err := h.svc.Analyze(r.Context(), req.Code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, analysis.ErrEmptyCode):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Code is required")
	case errors.Is(err, analysis.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "AI analysis is not configured")
	default:
		writeError(w, http.StatusInternalServerError, "ANALYSIS_FAILED", "Failed to analyze code. Please check your Gemini API key.")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
