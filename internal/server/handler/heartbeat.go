package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/heartbeat"
	"github.com/xela07ax/fleetgate/internal/server"
)

type HeartbeatHandler struct {
	pipeline *heartbeat.Pipeline
	metrics  *server.Metrics
	logger   *zap.Logger
}

func NewHeartbeatHandler(p *heartbeat.Pipeline, m *server.Metrics, logger *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{pipeline: p, metrics: m, logger: logger.Named("heartbeat-api")}
}

// Ingest — POST /api/v1/heartbeat, Authorization: Bearer <session token>
func (h *HeartbeatHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")
	if !strings.HasPrefix(bearer, "Bearer ") {
		h.metrics.HeartbeatsTotal.WithLabelValues("unauthorized").Inc()
		server.WriteError(w, h.logger, domain.NewAuth("missing bearer token"))
		return
	}

	var req heartbeat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}

	resp, err := h.pipeline.Ingest(r.Context(), bearer, req)
	if err != nil {
		h.metrics.HeartbeatsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		if _, ok := err.(*domain.RateLimitedError); ok {
			h.metrics.RateLimitDenied.WithLabelValues("heartbeat").Inc()
		}
		server.WriteError(w, h.logger, err)
		return
	}

	h.metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	server.WriteJSON(w, http.StatusOK, resp)
}
