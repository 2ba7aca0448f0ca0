package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// StatusHandler serves job status, retries and results.
type StatusHandler struct {
	logger *observability.Logger
	svc    Service
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(logger *observability.Logger, svc Service) *StatusHandler {
	return &StatusHandler{logger: logger, svc: svc}
}

// Status handles GET /api/v1/status/{jobId}.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, h.logger, r, "job not found", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Retry handles POST /api/v1/status/{jobId}/retry.
func (h *StatusHandler) Retry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	st, err := h.svc.Retry(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, h.logger, r, "job cannot be retried", err)
		return
	}
	h.logger.WithContext(r.Context()).Info().Str("job_id", jobID).Msg("Job retry requested")
	writeJSON(w, http.StatusAccepted, st)
}

// Result handles GET /api/v1/results/{sessionId}.
func (h *StatusHandler) Result(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Result(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeServiceError(w, h.logger, r, "results not found", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
