package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/pipeline"
	"github.com/polybuilder/polybuilder/internal/validation"
)

const (
	writeWait    = 10 * time.Second
	requestWait  = 30 * time.Second
	frameBacklog = 64
)

// Runner executes pipeline runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, onStatus pipeline.StatusFunc, sink events.Sink) pipeline.Status
}

// RunReader loads stored runs.
type RunReader interface {
	Get(ctx context.Context, id string) (*pipeline.StoredRun, error)
}

// Handler handles HTTP requests for pipeline runs.
type Handler struct {
	runner   Runner
	runs     RunReader
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a pipeline handler. Browser origins on the stream
// endpoint are checked against allowedOrigins; "*" allows any.
func NewHandler(runner Runner, runs RunReader, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		runner: runner,
		runs:   runs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed["*"] || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// RegisterReadRoutes registers read-only routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/pipeline/runs/{id}", h.handleGetRun)
}

// RegisterWriteRoutes registers routes that deploy contracts (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/pipeline", h.handleRun)
	r.Get("/pipeline/stream", h.handleStream)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}
	req, detail := decodeRequest(body)
	if detail != nil {
		writeError(w, http.StatusBadRequest, detail.Code, detail.Message)
		return
	}

	var statuses []pipeline.Status
	rec := events.NewRecorder()
	final := h.runner.Run(r.Context(), req, func(s pipeline.Status) {
		statuses = append(statuses, s)
	}, rec)

	if statuses == nil {
		statuses = []pipeline.Status{}
	}
	writeJSON(w, http.StatusOK, RunResponse{
		ID:       req.ID,
		Status:   final,
		Statuses: statuses,
		Events:   rec.Events(),
		Logs:     rec.Lines(),
	})
}

// handleStream runs one pipeline over a websocket. The first client message
// is the request; the server then sends event and status frames followed by
// a single done frame and closes. A client that disconnects early does not
// cancel the run; its result stays available under /pipeline/runs/{id}.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("pipeline stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	_, body, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("pipeline stream closed before request", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	req, detail := decodeRequest(body)
	if detail != nil {
		h.writeFrameAndClose(conn, Frame{Type: FrameError, Error: detail})
		return
	}

	// Drain client frames so control messages (close, ping) are handled.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := make(chan Frame, frameBacklog)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, frames)
	}()

	// Run calls the sink and onStatus from this goroutine only.
	final := h.runner.Run(context.WithoutCancel(r.Context()), req,
		func(s pipeline.Status) {
			frames <- Frame{Type: FrameStatus, Status: &s}
		},
		events.SinkFunc(func(e events.Event) {
			frames <- Frame{Type: FrameEvent, Event: &e}
		}),
	)
	frames <- Frame{Type: FrameDone, ID: req.ID, Status: &final}
	close(frames)
	<-writerDone

	_ = conn.Close()
	<-readerDone
}

// writeLoop is the only goroutine writing to conn. After a write error it
// keeps draining frames so the run is never blocked by a dead client.
func (h *Handler) writeLoop(conn *websocket.Conn, frames <-chan Frame) {
	broken := false
	for f := range frames {
		if broken {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			h.logger.Debug("pipeline stream write failed", "error", err)
			broken = true
			continue
		}
		if f.Type == FrameDone {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
	}
}

func (h *Handler) writeFrameAndClose(conn *websocket.Conn, f Frame) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, f.Error.Message)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Pipeline run not found")
			return
		}
		h.logger.Error("failed to load pipeline run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load pipeline run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decodeRequest parses and validates a pipeline request and assigns its ID.
func decodeRequest(body []byte) (pipeline.Request, *ErrorDetail) {
	var req pipeline.Request
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, &ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid JSON"}
	}
	if err := validation.Struct(req); err != nil {
		return req, &ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid request: " + err.Error()}
	}
	req.ID = uuid.NewString()
	return req, nil
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
