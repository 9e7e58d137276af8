package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/server"
)

// AlertStore — персистентность для операторских алерт-ручек.
type AlertStore interface {
	CreateChannel(ctx context.Context, ch *domain.AlertChannel) error
	CreateConfig(ctx context.Context, c *domain.AlertConfig) error
	ListAlertsByUser(ctx context.Context, userID string, limit int) ([]*domain.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
}

// AlertHandler — создание каналов/конфигов и работа с лентой алертов.
// Алертинг — платная фича: каналы и конфиги доступны с тарифа pro.
type AlertHandler struct {
	store  AlertStore
	logger *zap.Logger
}

func NewAlertHandler(store AlertStore, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{store: store, logger: logger.Named("alert-api")}
}

type createChannelRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// CreateChannel — POST /api/v1/alert-channels
func (h *AlertHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	claims, err := requireTier(r, domain.TierPro, domain.TierEnterprise)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}

	switch domain.ChannelType(req.Type) {
	case domain.ChannelSlack, domain.ChannelDiscord, domain.ChannelWebhook:
	default:
		server.WriteError(w, h.logger, domain.NewValidation("type must be slack, discord or webhook"))
		return
	}
	if req.URL == "" {
		server.WriteError(w, h.logger, domain.NewValidation("url is required"))
		return
	}

	ch := &domain.AlertChannel{
		ID:        uuid.New().String(),
		UserID:    claims.UserID,
		Type:      domain.ChannelType(req.Type),
		URL:       req.URL,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateChannel(r.Context(), ch); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, ch)
}

type createConfigRequest struct {
	AgentID          string  `json:"agent_id,omitempty"`
	FleetID          string  `json:"fleet_id,omitempty"`
	ChannelID        string  `json:"channel_id"`
	CPUThreshold     float64 `json:"cpu_threshold"`
	MemThreshold     float64 `json:"mem_threshold"`
	LatencyThreshold float64 `json:"latency_threshold"`
	OfflineAlert     bool    `json:"offline_alert"`
	ErrorAlert       bool    `json:"error_alert"`
	CooldownMinutes  int     `json:"cooldown_minutes"`
}

// CreateConfig — POST /api/v1/alert-configs.
// Скоуп взаимоисключающий: либо агент, либо флит.
func (h *AlertHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	claims, err := requireTier(r, domain.TierPro, domain.TierEnterprise)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}

	var req createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, h.logger, domain.NewValidation("invalid request body"))
		return
	}

	if (req.AgentID == "") == (req.FleetID == "") {
		server.WriteError(w, h.logger, domain.NewValidation("exactly one of agent_id or fleet_id must be set"))
		return
	}
	if req.ChannelID == "" {
		server.WriteError(w, h.logger, domain.NewValidation("channel_id is required"))
		return
	}

	cfg := &domain.AlertConfig{
		ID:               uuid.New().String(),
		UserID:           claims.UserID,
		AgentID:          req.AgentID,
		FleetID:          req.FleetID,
		ChannelID:        req.ChannelID,
		CPUThreshold:     req.CPUThreshold,
		MemThreshold:     req.MemThreshold,
		LatencyThreshold: req.LatencyThreshold,
		OfflineAlert:     req.OfflineAlert,
		ErrorAlert:       req.ErrorAlert,
		CooldownMinutes:  req.CooldownMinutes,
		CreatedAt:        time.Now(),
	}
	if err := h.store.CreateConfig(r.Context(), cfg); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, cfg)
}

// List — GET /api/v1/alerts
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		server.WriteError(w, h.logger, domain.NewAuth("missing user session"))
		return
	}

	alerts, err := h.store.ListAlertsByUser(r.Context(), claims.UserID, 50)
	if err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	server.WriteJSON(w, http.StatusOK, alerts)
}

// Resolve — POST /api/v1/alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		server.WriteError(w, h.logger, domain.NewAuth("missing user session"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.ResolveAlert(r.Context(), id); err != nil {
		server.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireTier — тарифный гейт для платных фич.
func requireTier(r *http.Request, allowed ...string) (*domain.UserClaims, error) {
	claims, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, domain.NewAuth("missing user session")
	}
	for _, tier := range allowed {
		if claims.Tier == tier {
			return claims, nil
		}
	}
	return nil, domain.NewForbidden("this feature requires a higher subscription tier")
}
