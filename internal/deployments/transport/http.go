// Package transport provides HTTP handlers for the deployments domain.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/deployments/domain"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/validation"
)

// errNoPrivateKey is reported when neither the request nor the server supply a key.
const errNoPrivateKey = "No private key provided and PRIVATE_KEY not set in environment"

// Service defines the deployment history interface for HTTP transport.
type Service interface {
	Record(ctx context.Context, req domain.RecordRequest) (*domain.Deployment, error)
	Get(ctx context.Context, network, address string) (*domain.Deployment, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Deployer broadcasts contract creation transactions.
type Deployer interface {
	Deploy(ctx context.Context, cfg evm.DeploymentConfig, sink events.Sink) evm.DeploymentResult
}

// Handler handles HTTP requests for deployments.
type Handler struct {
	svc        Service
	deployer   Deployer
	defaultKey evm.PrivateKey
	logger     *slog.Logger
}

// NewHandler creates a new deployments HTTP handler. defaultKey signs
// deployments whose request carries no key; it may be empty.
func NewHandler(svc Service, deployer Deployer, defaultKey evm.PrivateKey, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, deployer: deployer, defaultKey: defaultKey, logger: logger}
}

// RegisterReadRoutes registers read-only deployment routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/deployments", h.handleList)
	r.Get("/deployments/{network}/{address}", h.handleGet)
}

// RegisterWriteRoutes registers routes that spend gas (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/deploy", h.handleDeploy)
}

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req DeployRequest
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
	if req.Artifact.Bytecode == "" || req.Artifact.Bytecode == "0x" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: artifact.bytecode is required")
		return
	}

	key := req.PrivateKey
	if key.IsZero() {
		key = h.defaultKey
	}
	if key.IsZero() {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", errNoPrivateKey)
		return
	}

	rec := events.NewRecorder()
	result := h.deployer.Deploy(r.Context(), evm.DeploymentConfig{
		ContractName:    req.ContractName,
		Artifact:        req.Artifact,
		ConstructorArgs: req.ConstructorArgs,
		Network:         req.Network,
		PrivateKey:      key,
	}, rec)

	if result.Success {
		_, err := h.svc.Record(r.Context(), domain.RecordRequest{
			Network:      req.Network,
			ContractName: req.ContractName,
			Address:      result.ContractAddress,
			Deployer:     result.Deployer,
			TxHash:       result.TransactionHash,
			GasUsed:      result.GasUsed,
		})
		if err != nil {
			h.logger.Warn("failed to record deployment", "address", result.ContractAddress, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, DeployResponse{DeploymentResult: result, Logs: rec.Lines()})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var verified *bool
	if v := r.URL.Query().Get("verified"); v != "" {
		b := v == "true"
		verified = &b
	}

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Network:  r.URL.Query().Get("network"),
		Verified: verified,
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list deployments")
		return
	}

	data := result.Deployments
	if data == nil {
		data = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, DeploymentListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	address := chi.URLParam(r, "address")

	deployment, err := h.svc.Get(r.Context(), network, address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get deployment")
		return
	}

	writeJSON(w, http.StatusOK, deployment)
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
