package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nahidhasan98/wacrm/internal/models"
)

const healthProbeTimeout = 3 * time.Second

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	response := &models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Unix(),
	}

	if h.gw != nil {
		if _, err := h.gw.ListSessions(ctx); err != nil {
			h.log.Warnf("Gateway health probe failed: %v", err)
		} else {
			response.Gateway = true
		}
	}
	if h.attempts != nil {
		if err := h.attempts.Ping(ctx); err != nil {
			h.log.Warnf("Database health probe failed: %v", err)
		} else {
			response.Database = true
		}
	}
	if h.connections != nil {
		response.Flows = len(h.connections.List())
	}
	if h.hub != nil {
		response.Clients = h.hub.Clients()
	}

	if !response.Gateway || !response.Database {
		response.Status = "degraded"
	}

	h.writeJSON(w, response, http.StatusOK)
}
