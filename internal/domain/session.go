package domain

import "github.com/golang-jwt/jwt/v5"

// Тиры подписки. Тир живет на пользователе и попадает в claims при handshake.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// SessionClaims — полезная нагрузка сессионного токена агента (HS256, 24ч).
// Старые токены несут только agent_id — остальные поля пустые (см. LegacySession).
type SessionClaims struct {
	AgentID       string `json:"agent_id"`
	FleetID       string `json:"fleet_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	PolicyProfile string `json:"policy_profile,omitempty"`
	Tier          string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Session — tagged union двух поколений токенов.
// RichSession несет всю идентичность в claims, LegacySession требует дозагрузки агента.
type Session interface {
	SessionAgentID() string
}

// RichSession — токен нового формата: бизнес-логика не ходит в БД за идентичностью.
type RichSession struct {
	AgentID       string
	FleetID       string
	UserID        string
	PolicyProfile string
	Tier          string
}

func (s RichSession) SessionAgentID() string { return s.AgentID }

// LegacySession — токен со старыми claims (только agent_id).
type LegacySession struct {
	AgentID string
}

func (s LegacySession) SessionAgentID() string { return s.AgentID }

// SessionFromClaims классифицирует токен по наличию расширенных claims.
func SessionFromClaims(c *SessionClaims) Session {
	if c.FleetID == "" && c.UserID == "" && c.Tier == "" {
		return LegacySession{AgentID: c.AgentID}
	}
	return RichSession{
		AgentID:       c.AgentID,
		FleetID:       c.FleetID,
		UserID:        c.UserID,
		PolicyProfile: c.PolicyProfile,
		Tier:          c.Tier,
	}
}

// SessionContext — унифицированный контекст после явного резолва сессии.
// Дальше по пайплайну null-check'ов по полям токена больше нет.
type SessionContext struct {
	AgentID       string
	FleetID       string
	UserID        string
	PolicyProfile string
	Tier          string

	// Agent != nil, если резолв потребовал чтения записи из БД
	// (legacy-токен или прилетели сырые метрики).
	Agent *Agent
}

// UserClaims — токен оператора консоли.
type UserClaims struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}
