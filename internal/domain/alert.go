package domain

import "time"

type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelDiscord ChannelType = "discord"
	ChannelWebhook ChannelType = "webhook"
)

// AlertChannel — внешний канал доставки уведомлений.
type AlertChannel struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Type      ChannelType `json:"type"`
	URL       string      `json:"url"` // webhook URL (Slack Incoming / Discord / generic)
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

// AlertConfig — правило алертинга, привязанное либо к агенту, либо ко всему флиту.
// Инвариант: заполнено ровно одно из AgentID / FleetID.
type AlertConfig struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id,omitempty"`
	FleetID   string `json:"fleet_id,omitempty"`
	ChannelID string `json:"channel_id"`

	CPUThreshold     float64 `json:"cpu_threshold"`
	MemThreshold     float64 `json:"mem_threshold"`
	LatencyThreshold float64 `json:"latency_threshold"`
	OfflineAlert     bool    `json:"offline_alert"`
	ErrorAlert       bool    `json:"error_alert"`

	CooldownMinutes int `json:"cooldown_minutes"`
	// LastTriggeredAt осмыслен только для agent-scoped конфигов.
	// Для fleet-scoped squelch считается по наличию алерта этого агента в окне (см. alert.Engine).
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	// Данные канала, подклеиваемые движком при резолве (не персистятся на конфиге).
	Channel *AlertChannel `json:"channel,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsFleetScoped — true для конфига на весь флит.
func (c *AlertConfig) IsFleetScoped() bool {
	return c.FleetID != "" && c.AgentID == ""
}

// CooldownWindow возвращает окно подавления. Дефолт — 60 минут.
func (c *AlertConfig) CooldownWindow() time.Duration {
	if c.CooldownMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.CooldownMinutes) * time.Minute
}

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityError    AlertSeverity = "error"
	SeverityMetric   AlertSeverity = "metric"
)

// Alert — персистентная запись сработавшего правила.
type Alert struct {
	ID       string        `json:"id"`
	UserID   string        `json:"user_id"`
	AgentID  string        `json:"agent_id"`
	Severity AlertSeverity `json:"severity"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`

	// Metadata несет снапшот метрик, config_id (маркер для fleet-squelch) и тип канала.
	Metadata map[string]interface{} `json:"metadata"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
