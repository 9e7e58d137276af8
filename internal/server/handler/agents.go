package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/crypto"
	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/server"
)

// AgentStore описывает, что нужно операторским ручкам управления агентами.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgentsByUser(ctx context.Context, userID string) ([]*domain.Agent, error)
	CountAgentsByUser(ctx context.Context, userID string) (int, error)
	CreateAgent(ctx context.Context, a *domain.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	SetPendingRestart(ctx context.Context, id string, pending bool) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]domain.MetricSnapshot, error)
}

type AgentHandler struct {
	store    AgentStore
	envelope *crypto.Envelope
	logger   *zap.Logger
}

func NewAgentHandler(store AgentStore, envelope *crypto.Envelope, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{store: store, envelope: envelope, logger: logger.Named("agent-api")}
}

type registerAgentRequest struct {
	Name          string `json:"name"`
	FleetID       string `json:"fleet_id"`
	GatewayURL    string `json:"gateway_url"`
	PolicyProfile string `json:"policy_profile"`
	Model         string `json:"model"`
}

// Register — POST /api/v1/agents. Кап на количество агентов зависит от тарифа.
// Открытый секрет возвращается в ответе ровно один раз; дальше он живет
// только в зашифрованном конверте.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		server.WriteError(w, h.logger, domain.NewAuth("missing user session"))
		return
	}

	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}
	if req.Name == "" {
		server.WriteError(w, h.logger, domain.NewValidation("name is required"))
		return
	}

	count, err := h.store.CountAgentsByUser(r.Context(), claims.UserID)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	if limit := domain.AgentLimitForTier(claims.Tier); count >= limit {
		server.WriteError(w, h.logger,
			domain.NewForbidden("agent limit reached for tier %s (%d)", claims.Tier, limit))
		return
	}

	secret := uuid.New().String()
	sealed, err := h.envelope.Encrypt(secret)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	profile := req.PolicyProfile
	if profile == "" {
		profile = "dev"
	}

	now := time.Now()
	agent := &domain.Agent{
		ID:              uuid.New().String(),
		Name:            req.Name,
		FleetID:         req.FleetID,
		UserID:          claims.UserID,
		GatewayURL:      req.GatewayURL,
		Status:          domain.StatusIdle,
		Model:           req.Model,
		EncryptedSecret: sealed,
		PolicyProfile:   profile,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	agent.Config = domain.AgentConfig{Profile: profile, Model: req.Model}

	if err := h.store.CreateAgent(r.Context(), agent); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("agent registered", zap.String("agent_id", agent.ID), zap.String("user_id", claims.UserID))

	server.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"agent":        agent,
		"agent_secret": secret, // единственный раз в открытом виде
	})
}

// List — GET /api/v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		server.WriteError(w, h.logger, domain.NewAuth("missing user session"))
		return
	}

	agents, err := h.store.ListAgentsByUser(r.Context(), claims.UserID)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	// Фронт должен получить пустой массив, а не null
	if agents == nil {
		agents = []*domain.Agent{}
	}
	server.WriteJSON(w, http.StatusOK, agents)
}

// Get — GET /api/v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, agent)
}

// Delete — DELETE /api/v1/agents/{id}. Каскадно удаляет историю метрик и алерты.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	if err := h.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restart — POST /api/v1/agents/{id}/restart. Флаг заберет следующий heartbeat.
func (h *AgentHandler) Restart(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	if err := h.store.SetPendingRestart(r.Context(), agent.ID, true); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "restart scheduled"})
}

// MetricsHistory — GET /api/v1/agents/{id}/metrics?limit=N
func (h *AgentHandler) MetricsHistory(w http.ResponseWriter, r *http.Request) {
	agent, err := h.ownedAgent(r)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snapshots, err := h.store.ListRecent(r.Context(), agent.ID, limit)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, snapshots)
}

// ownedAgent грузит агента из URL и сверяет владельца с токеном.
// Чужой агент для оператора неотличим от несуществующего (404, не 403).
func (h *AgentHandler) ownedAgent(r *http.Request) (*domain.Agent, error) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, domain.NewAuth("missing user session")
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, domain.NewValidation("agent id is required")
	}

	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if agent.UserID != claims.UserID {
		return nil, domain.NewNotFound("agent")
	}
	return agent, nil
}
