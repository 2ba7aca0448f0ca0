package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

const readyTimeout = 5 * time.Second

// Check is one readiness probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// ComponentStatus reports a single readiness probe.
type ComponentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemHandler serves health, readiness, metrics and cache maintenance.
type SystemHandler struct {
	logger *observability.Logger
	svc    Service
	checks []Check
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(logger *observability.Logger, svc Service, checks ...Check) *SystemHandler {
	return &SystemHandler{logger: logger, svc: svc, checks: checks}
}

// Health handles GET /health. It only reports that the process is up.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "deck-processor",
		"version": config.Version,
	})
}

// Ready handles GET /ready by running every registered check.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	ready := true
	components := make(map[string]ComponentStatus, len(h.checks))
	for _, c := range h.checks {
		if err := c.Run(ctx); err != nil {
			ready = false
			components[c.Name] = ComponentStatus{Status: "unhealthy", Message: err.Error()}
			h.logger.WithContext(r.Context()).Warn().Err(err).Str("component", c.Name).Msg("Readiness check failed")
			continue
		}
		components[c.Name] = ComponentStatus{Status: "healthy"}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "components": components})
}

// Metrics handles GET /api/v1/metrics.
func (h *SystemHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Metrics())
}

// ClearCache handles DELETE /api/v1/cache and DELETE /api/v1/cache/{key}.
func (h *SystemHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	cleared := h.svc.ClearCache(r.Context(), key)

	h.logger.WithContext(r.Context()).Info().
		Str("key", key).
		Bool("cleared", cleared).
		Msg("Cache clear requested")

	resp := map[string]any{"cleared": cleared}
	if key != "" {
		resp["key"] = key
	}
	writeJSON(w, http.StatusOK, resp)
}
