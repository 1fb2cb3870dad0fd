package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency. A nil return means healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness. Liveness is unconditional;
// readiness runs the registered checks with a short deadline.
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates an empty handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: make(map[string]HealthCheck)}
}

// Register adds a named readiness check.
func (h *HealthHandler) Register(name string, check HealthCheck) {
	h.checks[name] = check
}

type healthResponse struct {
	Healthy bool              `json:"healthy"`
	Details map[string]string `json:"details,omitempty"`
}

// Alive reports process liveness.
func (h *HealthHandler) Alive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{Healthy: true})
}

// Ready runs every registered check and reports per-dependency status.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := healthResponse{Healthy: true, Details: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			response.Healthy = false
			response.Details[name] = err.Error()
			continue
		}
		response.Details[name] = "ok"
	}

	status := http.StatusOK
	if !response.Healthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, response)
}
