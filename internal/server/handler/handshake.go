package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/handshake"
	"github.com/xela07ax/fleetgate/internal/server"
)

type HandshakeHandler struct {
	authority *handshake.Authority
	metrics   *server.Metrics
	logger    *zap.Logger
}

func NewHandshakeHandler(a *handshake.Authority, m *server.Metrics, logger *zap.Logger) *HandshakeHandler {
	return &HandshakeHandler{authority: a, metrics: m, logger: logger.Named("handshake-api")}
}

// Handshake — POST /api/v1/agents/handshake
func (h *HandshakeHandler) Handshake(w http.ResponseWriter, r *http.Request) {
	var req handshake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}

	result, err := h.authority.Handshake(r.Context(), req)
	if err != nil {
		h.metrics.HandshakesTotal.WithLabelValues(outcomeLabel(err)).Inc()
		if _, ok := err.(*domain.RateLimitedError); ok {
			h.metrics.RateLimitDenied.WithLabelValues("handshake").Inc()
		}
		server.WriteError(w, h.logger, err)
		return
	}

	h.metrics.HandshakesTotal.WithLabelValues("issued").Inc()
	server.WriteJSON(w, http.StatusOK, result)
}

func outcomeLabel(err error) string {
	if _, ok := err.(*domain.RateLimitedError); ok {
		return "rate_limited"
	}
	return "rejected"
}
