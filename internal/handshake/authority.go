package handshake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/crypto"
	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/policy"
	"github.com/xela07ax/fleetgate/internal/ratelimit"
)

// Окно анти-replay для hardened-пути: таймстемп подписи не дальше ±300с от серверного времени.
const signatureWindowSeconds = 300

// Store описывает требования авторитета к хранилищу.
type Store interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetCustomPolicy(ctx context.Context, userID, name string) (*domain.CustomPolicy, error)
}

// Request — тело handshake-запроса. Агент предъявляет либо подпись
// HMAC-SHA256(secret, agentId+timestamp) с таймстемпом (hardened),
// либо сырой секрет (legacy, оставлен для обратной совместимости).
type Request struct {
	AgentID     string `json:"agent_id"`
	AgentSecret string `json:"agent_secret,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Result — выданная сессия + политика, по которой агент сразу подстраивает частоту опроса.
type Result struct {
	Token      string        `json:"token"`
	ExpiresIn  int64         `json:"expires_in"`
	GatewayURL string        `json:"gateway_url"`
	Policy     domain.Policy `json:"policy"`
}

// Authority проводит агента по машине состояний
// UNAUTHENTICATED -> AUTHENTICATING -> SESSION_ACTIVE.
// Переход в EXPIRED неявный: его обеспечивает проверка подписи/срока на каждом
// использовании токена, списка отзыва нет.
type Authority struct {
	store    Store
	envelope *crypto.Envelope
	limiter  *ratelimit.Limiter
	tokens   *auth.TokenService
	logger   *zap.Logger

	now func() time.Time
}

func NewAuthority(store Store, envelope *crypto.Envelope, limiter *ratelimit.Limiter, tokens *auth.TokenService, logger *zap.Logger) *Authority {
	return &Authority{
		store:    store,
		envelope: envelope,
		limiter:  limiter,
		tokens:   tokens,
		logger:   logger.Named("handshake"),
		now:      time.Now,
	}
}

// Handshake валидирует доказательство владения секретом и выдает сессионный токен.
func (a *Authority) Handshake(ctx context.Context, req Request) (*Result, error) {
	if req.AgentID == "" {
		return nil, domain.NewValidation("agent_id is required")
	}

	agent, err := a.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetUser(ctx, agent.UserID)
	if err != nil {
		return nil, err
	}
	tier := user.Tier

	// Handshake-специфичный лимит по agent id — до выдачи токена.
	if d := a.limiter.Check(ctx, agent.ID, "handshake", tier); !d.Allowed {
		return nil, &domain.RateLimitedError{RetryAfterSeconds: d.RetryAfterSeconds}
	}

	secret, err := a.envelope.Decrypt(agent.EncryptedSecret)
	if err != nil {
		// Конверт не разворачивается — это наша проблема, не агента.
		a.logger.Error("stored secret decrypt failed", zap.String("agent_id", agent.ID), zap.Error(err))
		return nil, err
	}

	switch {
	case req.Signature != "":
		if err := a.verifySignature(secret, req); err != nil {
			return nil, err
		}
	case req.AgentSecret != "":
		// Legacy-путь: сравнение открытых секретов.
		if !constantTimeEqual(secret, req.AgentSecret) {
			return nil, domain.NewAuth("invalid agent secret")
		}
	default:
		return nil, domain.NewValidation("either signature+timestamp or agent_secret is required")
	}

	token, err := a.tokens.IssueSession(agent.ID, agent.FleetID, agent.UserID, agent.PolicyProfile, tier)
	if err != nil {
		return nil, err
	}

	resolved, err := a.ResolvePolicy(ctx, agent, tier)
	if err != nil {
		return nil, err
	}

	a.logger.Info("session issued",
		zap.String("agent_id", agent.ID),
		zap.String("tier", tier),
		zap.Bool("hardened", req.Signature != ""))

	return &Result{
		Token:      token,
		ExpiresIn:  int64(a.tokens.TTL().Seconds()),
		GatewayURL: agent.GatewayURL,
		Policy:     resolved,
	}, nil
}

// verifySignature — hardened-путь: таймстемп в окне ±300с и совпадающий HMAC.
func (a *Authority) verifySignature(secret string, req Request) error {
	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return domain.NewAuth("invalid or expired signature")
	}
	if math.Abs(float64(a.now().Unix()-ts)) > signatureWindowSeconds {
		return domain.NewAuth("invalid or expired signature")
	}

	expected := ComputeSignature(secret, req.AgentID, req.Timestamp)
	if !constantTimeEqual(expected, req.Signature) {
		return domain.NewAuth("invalid or expired signature")
	}
	return nil
}

// ResolvePolicy собирает эффективную политику агента: профиль + тарифный пол.
// Кастомные политики доступны только enterprise-аккаунтам.
func (a *Authority) ResolvePolicy(ctx context.Context, agent *domain.Agent, tier string) (domain.Policy, error) {
	var custom *domain.CustomPolicy
	if tier == domain.TierEnterprise {
		cp, err := a.store.GetCustomPolicy(ctx, agent.UserID, agent.PolicyProfile)
		if err != nil && !domain.IsNotFound(err) {
			return domain.Policy{}, err
		}
		custom = cp
	}
	return policy.ClampInterval(policy.Resolve(agent.PolicyProfile, custom), tier), nil
}

// ComputeSignature — каноничная подпись handshake: HMAC-SHA256(secret, agentId+timestamp) в hex.
// Экспортирована, чтобы тесты и SDK агента считали её одинаково.
func ComputeSignature(secret, agentID, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(agentID + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqual не дает вытащить секрет по таймингу сравнения.
func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
