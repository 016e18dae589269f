package handlers

import (
	"net/http"

	"github.com/sagaclaw/sagaclaw/pkg/api/response"
	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
)

// HealthHandler handles liveness and readiness probes.
type HealthHandler struct {
	coord *coordinator.Coordinator
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(coord *coordinator.Coordinator) *HealthHandler {
	return &HealthHandler{coord: coord}
}

// Health handles the /healthz endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /readyz endpoint (readiness probe). The service is
// ready once the coordinator's background loops are running.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.coord.Running() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
		"ready": false,
	})
}
