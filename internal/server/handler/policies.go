package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/server"
)

type PolicyStore interface {
	CreateCustomPolicy(ctx context.Context, p *domain.CustomPolicy) error
}

// PolicyHandler — кастомные политики. Доступны только enterprise-аккаунтам.
type PolicyHandler struct {
	store  PolicyStore
	logger *zap.Logger
}

func NewPolicyHandler(store PolicyStore, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, logger: logger.Named("policy-api")}
}

type createPolicyRequest struct {
	Name              string            `json:"name"`
	Label             string            `json:"label"`
	Skills            []string          `json:"skills"`
	Tools             []string          `json:"tools"`
	DataAccess        string            `json:"data_access"`
	HeartbeatInterval int               `json:"heartbeat_interval"`
	Guardrails        domain.Guardrails `json:"guardrails"`
}

// Create — POST /api/v1/custom-policies
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, err := requireTier(r, domain.TierEnterprise)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}
	if req.Name == "" {
		server.WriteError(w, h.logger, domain.NewValidation("name is required"))
		return
	}
	if req.HeartbeatInterval <= 0 {
		server.WriteError(w, h.logger, domain.NewValidation("heartbeat_interval must be positive"))
		return
	}

	p := &domain.CustomPolicy{
		ID:                uuid.New().String(),
		UserID:            claims.UserID,
		Name:              req.Name,
		Label:             req.Label,
		Skills:            req.Skills,
		Tools:             req.Tools,
		DataAccess:        req.DataAccess,
		HeartbeatInterval: req.HeartbeatInterval,
		Guardrails:        req.Guardrails,
		CreatedAt:         time.Now(),
	}
	if err := h.store.CreateCustomPolicy(r.Context(), p); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, p)
}
