package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/infra"
)

// Limiter — token-bucket с персистентным состоянием, защищающий handshake и heartbeat.
//
// Read-modify-write бакета сознательно не обернут в транзакцию: конкурентные запросы
// по одному ключу могут слегка пере-пропустить. Доступность важнее строгой честности —
// лимитер не должен становиться единой точкой отказа для связности агентов, поэтому
// ЛЮБАЯ ошибка хранилища резолвится в allowed (fail-open), а не в deny.
type Limiter struct {
	store  Store
	tiers  map[string]map[string]infra.BucketSpec
	logger *zap.Logger

	now func() time.Time // подменяется в тестах
}

// Decision — результат проверки лимита.
type Decision struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
}

func NewLimiter(store Store, cfg infra.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		tiers:  cfg.Tiers,
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

// Check списывает один токен из бакета {identifier}:{limitType} для данного тарифа.
func (l *Limiter) Check(ctx context.Context, identifier, limitType, tier string) Decision {
	spec, ok := l.lookupSpec(tier, limitType)
	if !ok {
		// Дыра в конфигурации — операционная ошибка, но не повод ронять агентов.
		l.logger.Error("rate limit config missing, failing open",
			zap.String("tier", tier),
			zap.String("limit_type", limitType))
		return Decision{Allowed: true}
	}

	key := infra.RateLimitBucketKey(identifier, limitType)
	now := l.now()

	state, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Error("bucket read failed, failing open", zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true}
	}

	if state == nil {
		// Первый запрос по ключу: бакет полон, один токен уходит на текущий запрос.
		if err := l.store.Put(ctx, key, BucketState{Tokens: spec.Capacity - 1, LastRefill: now}); err != nil {
			l.logger.Error("bucket init failed, failing open", zap.String("key", key), zap.Error(err))
		}
		return Decision{Allowed: true}
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	current := math.Min(spec.Capacity, state.Tokens+elapsed*spec.RefillRate)

	if current < 1 {
		retryAfter := int(math.Ceil((1 - current) / spec.RefillRate))
		return Decision{Allowed: false, RetryAfterSeconds: retryAfter}
	}

	if err := l.store.Put(ctx, key, BucketState{Tokens: current - 1, LastRefill: now}); err != nil {
		l.logger.Error("bucket update failed, failing open", zap.String("key", key), zap.Error(err))
	}
	return Decision{Allowed: true}
}

func (l *Limiter) lookupSpec(tier, limitType string) (infra.BucketSpec, bool) {
	byType, ok := l.tiers[tier]
	if !ok {
		return infra.BucketSpec{}, false
	}
	spec, ok := byType[limitType]
	return spec, ok
}
