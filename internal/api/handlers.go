package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/shehryarbajwa/sweetlink/internal/logging"
	"github.com/shehryarbajwa/sweetlink/internal/metrics"
	"github.com/shehryarbajwa/sweetlink/internal/session"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

const maxBodyBytes = 1 << 20

// Broker is the part of the session broker the control plane drives
type Broker interface {
	SendCommand(ctx context.Context, id string, cmd models.Command, timeout time.Duration) (*models.CommandResult, error)
	ListSessions() []models.SessionSummary
	GetConsole(id string) ([]models.ConsoleEvent, error)
	Disconnect(id, reason string) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	broker   Broker
	verifier TokenVerifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(broker Broker, verifier TokenVerifier, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		broker:   broker,
		verifier: verifier,
		metrics:  m,
		log:      logger.With().Str("component", "api").Logger(),
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.SessionsResponse{Sessions: h.broker.ListSessions()})
}

// GetConsole handles GET /sessions/{id}/console
func (h *Handler) GetConsole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, err := h.broker.GetConsole(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.ConsoleResponse{SessionID: id, Events: events})
}

// SendCommand handles POST /sessions/{id}/command. Failures that happen
// after the command reached the tab are returned as an ok:false result.
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Command == nil {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if err := req.Command.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command: "+err.Error())
		return
	}
	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "timeoutMs must not be negative")
		return
	}

	start := time.Now()
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	result, err := h.broker.SendCommand(r.Context(), id, *req.Command, timeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, models.CommandResponse{Result: result})
	case session.IsSynchronous(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		if failed := session.FailureResult(err, time.Since(start)); failed != nil {
			writeJSON(w, http.StatusOK, models.CommandResponse{Result: failed})
			return
		}
		// the caller went away or gave up; nobody reads this response
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.log.Debug().Err(err).Str("session", logging.Sanitize(id)).Msg("command aborted")
		writeError(w, status, err.Error())
	}
}

// DeleteSession handles DELETE /sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.broker.Disconnect(id, models.DisconnectOperator); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
