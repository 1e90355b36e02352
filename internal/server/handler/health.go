package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness and the static runtime status.
type HealthHandler struct {
	mode      string
	strategy  string
	symbols   []string
	startedAt time.Time
}

func NewHealthHandler(mode, strategy string, symbols []string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{mode: mode, strategy: strategy, symbols: symbols, startedAt: startedAt}
}

// HealthCheck handles GET /api/health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /api/status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"strategy":       h.strategy,
		"symbols":        h.symbols,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
