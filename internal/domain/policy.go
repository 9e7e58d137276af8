package domain

import "time"

// Guardrails — операционные ограничители, выдаваемые агенту вместе с политикой.
type Guardrails struct {
	BudgetLimitUSD      float64  `json:"budget_limit_usd"`
	MaxExecutionTimeSec int      `json:"max_execution_time_sec"`
	ApprovedTools       []string `json:"approved_tools"`
}

// Policy — результат резолва профиля. Не персистится (кроме кастомных enterprise-политик).
type Policy struct {
	Name              string     `json:"name"`
	Label             string     `json:"label"`
	Skills            []string   `json:"skills"`
	Tools             []string   `json:"tools"`
	DataAccess        string     `json:"data_access"`
	HeartbeatInterval int        `json:"heartbeat_interval"` // секунды
	Guardrails        Guardrails `json:"guardrails"`
}

// CustomPolicy — enterprise-политика, сохраненная пользователем.
type CustomPolicy struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Name              string     `json:"name"`
	Label             string     `json:"label"`
	Skills            []string   `json:"skills"`
	Tools             []string   `json:"tools"`
	DataAccess        string     `json:"data_access"`
	HeartbeatInterval int        `json:"heartbeat_interval"`
	Guardrails        Guardrails `json:"guardrails"`
	CreatedAt         time.Time  `json:"created_at"`
}
