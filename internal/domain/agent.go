package domain

import "time"

type AgentStatus string

const (
	StatusHealthy AgentStatus = "healthy" // Агент штатно отчитывается
	StatusIdle    AgentStatus = "idle"    // Живой, но без активных задач
	StatusError   AgentStatus = "error"   // Последний heartbeat сообщил об ошибке
	StatusOffline AgentStatus = "offline" // Heartbeat'ы прекратились
)

// AgentConfig — пушабельная конфигурация агента.
type AgentConfig struct {
	Profile   string   `json:"profile"`
	Skills    []string `json:"skills"`
	Model     string   `json:"model"`
	DataScope string   `json:"data_scope"`
}

// AgentMetrics — снапшот метрик агента на момент последнего heartbeat.
type AgentMetrics struct {
	LatencyMs      float64 `json:"latency_ms"`
	TasksCompleted int64   `json:"tasks_completed"`
	ErrorsCount    int64   `json:"errors_count"`
	UptimeHours    int64   `json:"uptime_hours"`
	CostUSD        float64 `json:"cost_usd"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
}

type Agent struct {
	ID         string      `json:"id"` // UUID
	Name       string      `json:"name"`
	FleetID    string      `json:"fleet_id"`
	UserID     string      `json:"user_id"`
	GatewayURL string      `json:"gateway_url"`
	Status     AgentStatus `json:"status"`

	LastHeartbeat *time.Time   `json:"last_heartbeat"` // nil, пока агент ни разу не отчитался
	Config        AgentConfig  `json:"config"`
	Metrics       AgentMetrics `json:"metrics"`

	MachineID string `json:"machine_id"`
	Location  string `json:"location"`
	Model     string `json:"model"`

	// EncryptedSecret хранится исключительно в зашифрованном конверте.
	// В API-ответы не сериализуется: открытый секрет агент видит один раз — при регистрации.
	EncryptedSecret string `json:"-"`

	PolicyProfile  string `json:"policy_profile"`
	PendingRestart bool   `json:"pending_restart"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricSnapshot — неизменяемая точка time-series для исторических графиков.
type MetricSnapshot struct {
	AgentID        string    `json:"agent_id"`
	CPUUsage       float64   `json:"cpu_usage"`
	MemoryUsage    float64   `json:"memory_usage"`
	LatencyMs      float64   `json:"latency_ms"`
	UptimeHours    int64     `json:"uptime_hours"`
	TasksCompleted int64     `json:"tasks_completed"`
	ErrorsCount    int64     `json:"errors_count"`
	CostUSD        float64   `json:"cost_usd"`
	Timestamp      time.Time `json:"timestamp"`
}

// HeartbeatMetrics — сырой payload метрик из heartbeat-запроса.
// Указатели отличают «не прислали» от нулевого значения.
type HeartbeatMetrics struct {
	CPUUsage    *float64 `json:"cpu_usage"`
	MemoryUsage *float64 `json:"memory_usage"`
	LatencyMs   *float64 `json:"latency_ms"`
}

// AgentLimitForTier — кап на количество агентов по тарифу.
func AgentLimitForTier(tier string) int {
	switch tier {
	case TierEnterprise:
		return 100
	case TierPro:
		return 10
	default:
		return 1
	}
}
