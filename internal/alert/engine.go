package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
)

// Store — требования движка к персистентности.
type Store interface {
	ListConfigsForAgent(ctx context.Context, agentID, fleetID string) ([]*domain.AlertConfig, error)
	UpdateConfigLastTriggered(ctx context.Context, configID string, at time.Time) error
	InsertAlert(ctx context.Context, a *domain.Alert) error
	ExistsRecentAlert(ctx context.Context, agentID, configID string, since time.Time) (bool, error)
	GetAgentName(ctx context.Context, id string) (string, error)
}

// Notifier доставляет уведомление во внешний канал.
type Notifier interface {
	Notify(ctx context.Context, channel *domain.AlertChannel, n Notification) error
}

// Notification — структурированное тело, которое форматируется под конкретный канал.
type Notification struct {
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	AgentID   string               `json:"agent_id"`
	Metrics   domain.AgentMetrics  `json:"metrics"`
	Timestamp time.Time            `json:"timestamp"`
	Link      string               `json:"link"`
	Severity  domain.AlertSeverity `json:"severity"`
}

// Input — всё, что известно о heartbeat'е к моменту оценки.
// Preloaded позволяет пайплайну передать уже прочитанные конфиги и не ходить в БД дважды.
type Input struct {
	AgentID   string
	FleetID   string
	UserID    string
	AgentName string
	Status    domain.AgentStatus
	Metrics   domain.AgentMetrics
	Preloaded []*domain.AlertConfig
}

// Engine — движок smart-алертов: cooldown/squelch, приоритет триггеров, доставка.
// Вызывается из heartbeat-пайплайна fire-and-forget; ни одна ошибка отсюда
// не доходит до агента.
type Engine struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	baseURL  string

	dispatched     prometheus.Counter
	notifyFailures prometheus.Counter

	now func() time.Time
}

func NewEngine(store Store, notifier Notifier, baseURL string, logger *zap.Logger,
	dispatched, notifyFailures prometheus.Counter) *Engine {
	return &Engine{
		store:          store,
		notifier:       notifier,
		logger:         logger.Named("alert-engine"),
		baseURL:        baseURL,
		dispatched:     dispatched,
		notifyFailures: notifyFailures,
		now:            time.Now,
	}
}

// Evaluate прогоняет heartbeat по всем применимым конфигам.
// Сбой одного конфига или канала не мешает остальным.
func (e *Engine) Evaluate(ctx context.Context, in Input) {
	configs := in.Preloaded
	if configs == nil {
		var err error
		configs, err = e.store.ListConfigsForAgent(ctx, in.AgentID, in.FleetID)
		if err != nil {
			e.logger.Error("failed to load alert configs", zap.String("agent_id", in.AgentID), zap.Error(err))
			return
		}
	}

	for _, cfg := range configs {
		// Конфиги с отсутствующим или выключенным каналом выбывают сразу.
		if cfg.Channel == nil || !cfg.Channel.Active {
			continue
		}

		inCooldown, err := e.isInCooldown(ctx, cfg, in.AgentID)
		if err != nil {
			e.logger.Error("cooldown check failed", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		if inCooldown {
			continue
		}

		severity, reason := evaluateTriggers(cfg, in.Status, in.Metrics)
		if reason == "" {
			continue
		}

		if err := e.dispatch(ctx, cfg, in, severity, reason); err != nil {
			e.notifyFailures.Inc()
			e.logger.Error("alert dispatch failed",
				zap.String("config_id", cfg.ID),
				zap.String("channel_type", string(cfg.Channel.Type)),
				zap.Error(err))
		}
	}
}

// isInCooldown — асимметричная логика подавления.
// Agent-scoped: по last_triggered_at самого конфига.
// Fleet-scoped: общий last_triggered_at глушил бы алерты других агентов флита,
// поэтому спрашиваем базу, был ли алерт ЭТОГО агента по ЭТОМУ конфигу в окне.
func (e *Engine) isInCooldown(ctx context.Context, cfg *domain.AlertConfig, agentID string) (bool, error) {
	window := cfg.CooldownWindow()

	if cfg.IsFleetScoped() {
		return e.store.ExistsRecentAlert(ctx, agentID, cfg.ID, e.now().Add(-window))
	}

	if cfg.LastTriggeredAt == nil {
		return false, nil
	}
	return e.now().Sub(*cfg.LastTriggeredAt) < window, nil
}

// evaluateTriggers — приоритет срабатывания: offline > error > метрики.
// Первые два — short-circuit; пороги метрик оцениваются независимо,
// сработавшие причины склеиваются переводом строки в один алерт.
func evaluateTriggers(cfg *domain.AlertConfig, status domain.AgentStatus, m domain.AgentMetrics) (domain.AlertSeverity, string) {
	if cfg.OfflineAlert && status == domain.StatusOffline {
		return domain.SeverityCritical, "Agent went offline"
	}
	if cfg.ErrorAlert && status == domain.StatusError {
		return domain.SeverityError, "Agent reported an internal error"
	}
	if status == domain.StatusOffline {
		return "", ""
	}

	var reasons []string
	if cfg.CPUThreshold > 0 && m.CPUUsage >= cfg.CPUThreshold {
		reasons = append(reasons, fmt.Sprintf("CPU usage %.1f%% exceeded threshold %.1f%%", m.CPUUsage, cfg.CPUThreshold))
	}
	if cfg.MemThreshold > 0 && m.MemoryUsage >= cfg.MemThreshold {
		reasons = append(reasons, fmt.Sprintf("Memory usage %.1f%% exceeded threshold %.1f%%", m.MemoryUsage, cfg.MemThreshold))
	}
	if cfg.LatencyThreshold > 0 && m.LatencyMs >= cfg.LatencyThreshold {
		reasons = append(reasons, fmt.Sprintf("Latency %.0fms exceeded threshold %.0fms", m.LatencyMs, cfg.LatencyThreshold))
	}
	if len(reasons) == 0 {
		return "", ""
	}
	return domain.SeverityMetric, strings.Join(reasons, "\n")
}

func (e *Engine) dispatch(ctx context.Context, cfg *domain.AlertConfig, in Input,
	severity domain.AlertSeverity, reason string) error {
	name := in.AgentName
	if name == "" {
		n, err := e.store.GetAgentName(ctx, in.AgentID)
		if err != nil {
			e.logger.Warn("agent name lookup failed", zap.String("agent_id", in.AgentID), zap.Error(err))
			name = in.AgentID
		} else {
			name = n
		}
	}

	now := e.now()
	record := &domain.Alert{
		ID:       uuid.New().String(),
		UserID:   cfg.UserID,
		AgentID:  in.AgentID,
		Severity: severity,
		Title:    fmt.Sprintf("Smart Alert: %s", name),
		Message:  reason,
		Metadata: map[string]interface{}{
			"config_id":    cfg.ID,
			"channel_type": string(cfg.Channel.Type),
			"metrics": map[string]interface{}{
				"cpu_usage":    in.Metrics.CPUUsage,
				"memory_usage": in.Metrics.MemoryUsage,
				"latency_ms":   in.Metrics.LatencyMs,
			},
		},
		CreatedAt: now,
	}

	if err := e.store.InsertAlert(ctx, record); err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}

	// Единственная мутация, двигающая cooldown. Fleet-scoped конфиги не трогаем:
	// их squelch считается по таблице алертов (см. isInCooldown).
	if !cfg.IsFleetScoped() {
		if err := e.store.UpdateConfigLastTriggered(ctx, cfg.ID, now); err != nil {
			e.logger.Error("failed to advance cooldown", zap.String("config_id", cfg.ID), zap.Error(err))
		}
	}

	e.dispatched.Inc()

	return e.notifier.Notify(ctx, cfg.Channel, Notification{
		Title:     record.Title,
		Message:   reason,
		AgentID:   in.AgentID,
		Metrics:   in.Metrics,
		Timestamp: now,
		Link:      fmt.Sprintf("%s/agents/%s", e.baseURL, in.AgentID),
		Severity:  severity,
	})
}
