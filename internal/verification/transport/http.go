// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/validation"
	"github.com/polybuilder/polybuilder/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.VerifyRequest, sink events.Sink) domain.Result
	ContractInfo(ctx context.Context, network, address string) (*domain.ContractInfo, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc Service
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/contract-info", h.handleContractInfo)
}

// RegisterWriteRoutes registers routes that call the explorer with the
// server's API key (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/verify", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req VerifyRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: "+err.Error())
		return
	}

	rec := events.NewRecorder()
	result := h.svc.Verify(r.Context(), req.ToDomain(), rec)

	writeJSON(w, http.StatusOK, VerifyResponse{Result: result, Logs: rec.Lines()})
}

func (h *Handler) handleContractInfo(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	network := r.URL.Query().Get("network")
	if address == "" || network == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: address and network required")
		return
	}
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	info, err := h.svc.ContractInfo(r.Context(), network, address)
	if err != nil {
		if errors.Is(err, chains.ErrUnknownNetwork) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, ContractInfoResponse{Success: false, Error: domain.DisplayError(err)})
		return
	}

	writeJSON(w, http.StatusOK, ContractInfoResponse{Success: true, Info: info})
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
