package handlers

import (
	"net/http"
	"time"

	"github.com/ziplift/ziplift/pkg/upload"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	service *upload.Service
}

// NewHealthHandler creates the health handler. service may be nil, in
// which case readiness degrades to liveness.
func NewHealthHandler(service *upload.Service) *HealthHandler {
	return &HealthHandler{service: service}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Liveness handles GET /health. It answers as long as the process can
// serve HTTP at all.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Readiness handles GET /health/ready. It verifies the metadata store is
// reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.service != nil {
		if err := h.service.Ping(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     err.Error(),
			})
			return
		}
	}
	WriteJSONOK(w, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}
