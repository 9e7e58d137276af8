package heartbeat

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/alert"
	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/legacy"
	"github.com/xela07ax/fleetgate/internal/policy"
	"github.com/xela07ax/fleetgate/internal/ratelimit"
)

// Store — требования пайплайна к основному хранилищу.
type Store interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetCustomPolicy(ctx context.Context, userID, name string) (*domain.CustomPolicy, error)
	UpdateHeartbeat(ctx context.Context, a *domain.Agent) error
	TouchHeartbeat(ctx context.Context, id string, status domain.AgentStatus, at time.Time) (bool, error)
	InsertSnapshot(ctx context.Context, s domain.MetricSnapshot) error
}

// costPerTask — прайс за задачу по модели. Незнакомая модель — дефолт 0.01.
var costPerTask = map[string]float64{
	"gpt-4o":        0.0300,
	"gpt-4o-mini":   0.0050,
	"claude-opus":   0.0600,
	"claude-sonnet": 0.0150,
	"llama-3-70b":   0.0020,
}

const defaultCostPerTask = 0.01

// Request — тело heartbeat-запроса агента.
type Request struct {
	AgentID   string                   `json:"agent_id"`
	Status    string                   `json:"status,omitempty"`
	Metrics   *domain.HeartbeatMetrics `json:"metrics,omitempty"`
	MachineID string                   `json:"machine_id,omitempty"`
	Location  string                   `json:"location,omitempty"`
	Model     string                   `json:"model,omitempty"`
}

// Response всегда несет актуальную политику: агент подстраивает частоту
// опроса в реальном времени, без отдельного запроса конфигурации.
type Response struct {
	Message string             `json:"message"`
	Status  domain.AgentStatus `json:"status"`
	Policy  domain.Policy      `json:"policy"`
	Restart bool               `json:"restart,omitempty"`
}

// Pipeline — конвейер приема heartbeat'ов: аутентификация сессии, rate limit,
// производные метрики, dual-write персистентность, асинхронный алертинг.
type Pipeline struct {
	store   Store
	tokens  *auth.TokenService
	limiter *ratelimit.Limiter
	syncer  *legacy.Syncer
	alerts  *alert.Engine
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(store Store, tokens *auth.TokenService, limiter *ratelimit.Limiter,
	syncer *legacy.Syncer, alerts *alert.Engine, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		syncer:  syncer,
		alerts:  alerts,
		logger:  logger.Named("heartbeat"),
		now:     time.Now,
	}
}

// Ingest обрабатывает один heartbeat. bearer — содержимое заголовка Authorization.
func (p *Pipeline) Ingest(ctx context.Context, bearer string, req Request) (*Response, error) {
	claims, err := p.tokens.VerifySession(bearer)
	if err != nil {
		return nil, err
	}
	if claims.AgentID != req.AgentID {
		return nil, domain.NewAuth("session does not match agent_id")
	}

	sess, err := p.resolveSession(ctx, domain.SessionFromClaims(claims), req)
	if err != nil {
		return nil, err
	}

	// Heartbeat-специфичный лимит по agent id; тир уже известен из резолва сессии.
	if d := p.limiter.Check(ctx, sess.AgentID, "heartbeat", sess.Tier); !d.Allowed {
		return nil, &domain.RateLimitedError{RetryAfterSeconds: d.RetryAfterSeconds}
	}

	status := domain.AgentStatus(req.Status)
	if status == "" {
		status = domain.StatusHealthy
	}

	if sess.Agent == nil {
		// Кандидат на легкий путь: rich-токен, ни метрик, ни новых полей идентичности.
		// Но если троттлер legacy-синка готов пропустить запись (статус сменился или
		// истек sync_interval), агент все же дочитывается и идет полным путем — иначе
		// смена статуса без метрик проехала бы мимо вторичного хранилища.
		if p.syncer.NeedsSync(ctx, sess.AgentID, string(status)) {
			agent, err := p.store.GetAgent(ctx, sess.AgentID)
			if err != nil {
				return nil, err
			}
			sess.Agent = agent
			return p.ingestFull(ctx, sess, req, status)
		}
		return p.ingestLight(ctx, sess, status)
	}
	return p.ingestFull(ctx, sess, req, status)
}

// resolveSession превращает tagged union токена в унифицированный SessionContext.
// Агент дочитывается из БД, когда понадобится полная запись: legacy-токен (claims
// пустые), сырые метрики / статус error (нужны текущие счетчики) либо новые
// machine_id/location/model — иначе они потерялись бы на легком пути.
func (p *Pipeline) resolveSession(ctx context.Context, sess domain.Session, req Request) (*domain.SessionContext, error) {
	needsAgent := req.Metrics != nil || req.Status == string(domain.StatusError) ||
		req.MachineID != "" || req.Location != "" || req.Model != ""

	switch s := sess.(type) {
	case domain.RichSession:
		sc := &domain.SessionContext{
			AgentID:       s.AgentID,
			FleetID:       s.FleetID,
			UserID:        s.UserID,
			PolicyProfile: s.PolicyProfile,
			Tier:          s.Tier,
		}
		if needsAgent {
			agent, err := p.store.GetAgent(ctx, s.AgentID)
			if err != nil {
				return nil, err
			}
			sc.Agent = agent
		}
		return sc, nil

	case domain.LegacySession:
		// Fallback для старых токенов: вся идентичность дочитывается из БД.
		agent, err := p.store.GetAgent(ctx, s.AgentID)
		if err != nil {
			return nil, err
		}
		user, err := p.store.GetUser(ctx, agent.UserID)
		if err != nil {
			return nil, err
		}
		return &domain.SessionContext{
			AgentID:       agent.ID,
			FleetID:       agent.FleetID,
			UserID:        agent.UserID,
			PolicyProfile: agent.PolicyProfile,
			Tier:          user.Tier,
			Agent:         agent,
		}, nil

	default:
		return nil, domain.NewAuth("unsupported session type")
	}
}

func (p *Pipeline) ingestLight(ctx context.Context, sess *domain.SessionContext, status domain.AgentStatus) (*Response, error) {
	restart, err := p.store.TouchHeartbeat(ctx, sess.AgentID, status, p.now())
	if err != nil {
		return nil, err
	}

	resolved, err := p.resolvePolicy(ctx, sess)
	if err != nil {
		return nil, err
	}

	return &Response{Message: "ok", Status: status, Policy: resolved, Restart: restart}, nil
}

func (p *Pipeline) ingestFull(ctx context.Context, sess *domain.SessionContext, req Request, status domain.AgentStatus) (*Response, error) {
	agent := sess.Agent
	now := p.now()

	hasMetrics := req.Metrics != nil
	restart := agent.PendingRestart

	// Производные поля.
	agent.Metrics.UptimeHours = int64(math.Floor(now.Sub(agent.CreatedAt).Hours()))
	if hasMetrics {
		agent.Metrics.TasksCompleted++
	}
	if status == domain.StatusError {
		agent.Metrics.ErrorsCount++
	}

	model := agent.Model
	if req.Model != "" {
		model = req.Model
	}
	agent.Metrics.CostUSD = round4(float64(agent.Metrics.TasksCompleted) * lookupCost(model))

	if hasMetrics {
		if req.Metrics.CPUUsage != nil {
			agent.Metrics.CPUUsage = *req.Metrics.CPUUsage
		}
		if req.Metrics.MemoryUsage != nil {
			agent.Metrics.MemoryUsage = *req.Metrics.MemoryUsage
		}
		if req.Metrics.LatencyMs != nil {
			agent.Metrics.LatencyMs = *req.Metrics.LatencyMs
		}
	}

	agent.Status = status
	agent.LastHeartbeat = &now
	agent.PendingRestart = false
	if req.MachineID != "" {
		agent.MachineID = req.MachineID
	}
	if req.Location != "" {
		agent.Location = req.Location
	}
	if req.Model != "" {
		agent.Model = req.Model
	}

	if err := p.store.UpdateHeartbeat(ctx, agent); err != nil {
		return nil, err
	}

	// Иммутабельная точка истории — для графиков, не источник истины.
	// Падение между апдейтом агента и вставкой точки допустимо.
	if hasMetrics {
		snapshot := domain.MetricSnapshot{
			AgentID:        agent.ID,
			CPUUsage:       agent.Metrics.CPUUsage,
			MemoryUsage:    agent.Metrics.MemoryUsage,
			LatencyMs:      agent.Metrics.LatencyMs,
			UptimeHours:    agent.Metrics.UptimeHours,
			TasksCompleted: agent.Metrics.TasksCompleted,
			ErrorsCount:    agent.Metrics.ErrorsCount,
			CostUSD:        agent.Metrics.CostUSD,
			Timestamp:      now,
		}
		if err := p.store.InsertSnapshot(ctx, snapshot); err != nil {
			p.logger.Error("metrics history append failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	// Best-effort синк в legacy-хранилище: воркер сам троттлит и ретраит.
	p.syncer.Submit(ctx, legacy.AgentSnapshot{
		AgentID:       agent.ID,
		Name:          agent.Name,
		Status:        string(agent.Status),
		LastHeartbeat: now,
		Metrics:       agent.Metrics,
		Model:         agent.Model,
		SyncedAt:      now,
	})

	// Оценка алертов — fire-and-forget с логируемым сбоем.
	if hasMetrics || status == domain.StatusError || status == domain.StatusOffline {
		p.spawnEvaluate(alert.Input{
			AgentID:   agent.ID,
			FleetID:   agent.FleetID,
			UserID:    agent.UserID,
			AgentName: agent.Name,
			Status:    status,
			Metrics:   agent.Metrics,
		})
	}

	resolved, err := p.resolvePolicy(ctx, sess)
	if err != nil {
		return nil, err
	}

	return &Response{Message: "ok", Status: status, Policy: resolved, Restart: restart}, nil
}

// spawnEvaluate запускает оценку алертов вне жизненного цикла запроса.
// Контекст собственный: heartbeat-ответ уже мог уйти. Паника воркера гасится и логируется.
func (p *Pipeline) spawnEvaluate(in alert.Input) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("alert evaluation panicked", zap.Any("panic", r), zap.String("agent_id", in.AgentID))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.alerts.Evaluate(ctx, in)
	}()
}

func (p *Pipeline) resolvePolicy(ctx context.Context, sess *domain.SessionContext) (domain.Policy, error) {
	var custom *domain.CustomPolicy
	if sess.Tier == domain.TierEnterprise {
		cp, err := p.store.GetCustomPolicy(ctx, sess.UserID, sess.PolicyProfile)
		if err != nil && !domain.IsNotFound(err) {
			return domain.Policy{}, err
		}
		custom = cp
	}
	return policy.ClampInterval(policy.Resolve(sess.PolicyProfile, custom), sess.Tier), nil
}

func lookupCost(model string) float64 {
	if c, ok := costPerTask[model]; ok {
		return c
	}
	return defaultCostPerTask
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
