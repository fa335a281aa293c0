// Package handlers provides HTTP handlers for run lifecycle operations.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
)

// Handler handles run lifecycle HTTP requests
type Handler struct {
	service *hybrid.Service
	log     zerolog.Logger
}

// NewHandler creates a new run handler
func NewHandler(service *hybrid.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

// HandleStartRun handles POST /api/runs
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req hybrid.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProblemName == "" {
		h.writeError(w, http.StatusBadRequest, "problem_name is required")
		return
	}

	run, err := h.service.StartRun(req)
	if err != nil {
		if strings.Contains(err.Error(), "unknown problem") {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info().Str("run_id", run.ID).Str("problem", run.ProblemName).Msg("Run launched")
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"data": run})
}

// HandleListRuns handles GET /api/runs
// Optional query parameters: problem (filter by problem name), limit.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.URL.Query().Get("problem"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": runs})
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.service.GetRun(runID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Run %q not found", runID))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": run})
}

// HandleGetIterations handles GET /api/runs/{id}/iterations
// The exec query parameter selects the repetition, defaulting to 0.
func (h *Handler) HandleGetIterations(w http.ResponseWriter, r *http.Request, runID string) {
	exec, ok := h.execParam(w, r)
	if !ok {
		return
	}
	records, err := h.service.GetIterations(runID, exec)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load iterations")
		h.writeError(w, http.StatusInternalServerError, "Failed to load iterations")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": records})
}

// HandleExport handles GET /api/runs/{id}/export
// The response body is a bare JSON array of epoch records whose field names
// are frozen for downstream analysis tooling.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request, runID string) {
	exec, ok := h.execParam(w, r)
	if !ok {
		return
	}
	records, err := h.service.ExportRecords(runID, exec)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to export run")
		h.writeError(w, http.StatusInternalServerError, "Failed to export run")
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleCancelRun handles POST /api/runs/{id}/cancel
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	if !h.service.CancelRun(runID) {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("No active run %q", runID))
		return
	}
	h.log.Info().Str("run_id", runID).Msg("Run cancellation requested")
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]interface{}{"run_id": runID, "cancelled": true},
	})
}

// HandleActiveRuns handles GET /api/runs/active
func (h *Handler) HandleActiveRuns(w http.ResponseWriter, r *http.Request) {
	ids := h.service.ActiveRuns()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": ids})
}

func (h *Handler) execParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("exec")
	if raw == "" {
		return 0, true
	}
	exec, err := strconv.Atoi(raw)
	if err != nil || exec < 0 {
		h.writeError(w, http.StatusBadRequest, "exec must be a non-negative integer")
		return 0, false
	}
	return exec, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]interface{}{"error": msg})
}
