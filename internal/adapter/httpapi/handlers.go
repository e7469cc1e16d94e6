package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/service"
)

// RequestedByHeader names the caller when the token does not.
const RequestedByHeader = "X-Requested-By"

const maxBodyBytes = 1 << 20

// Pinger reports whether the target database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type executeRequest struct {
	SQL               string `json:"sql"`
	ExecutionPlanMode string `json:"executionPlanMode"`
	Source            string `json:"source"`
}

type handlers struct {
	query    *service.QueryService
	pinger   Pinger
	logger   *slog.Logger
	identity string
}

func (h *handlers) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode, err := domain.ParseExecutionPlanMode(req.ExecutionPlanMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := domain.ParseQuerySource(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestedBy := strings.TrimSpace(r.Header.Get(RequestedByHeader))
	if requestedBy == "" && source == domain.SourceAI {
		requestedBy = h.identity
	}

	exec, err := h.query.Execute(r.Context(), service.Submission{
		SQL:               req.SQL,
		RequestedBy:       requestedBy,
		Source:            source,
		ExecutionPlanMode: mode,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "execute request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error.message", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "audit record could not be stored")
		return
	}

	// Rejected and failed statements are still a completed, audited request.
	writeJSON(w, http.StatusOK, exec)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.query.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) historyEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entry, err := h.query.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	v, err := h.query.Verify(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// health reports ok, or 503 when the target database cannot be reached.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "audit entry not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"code":    status,
		"message": message,
	})
}
