package legacy

/*
Файл syncer.go реализует write-behind синхронизацию во вторичное (legacy) хранилище.

Архитектура повторяет проверенный паттерн буферизованного аудита:
- Non-blocking: heartbeat-пайплайн кладет снапшот в канал и не ждет записи —
  задержки legacy-базы не влияют на Response Time агентов.
- Batching: воркер копит снапшоты и пишет их пачкой (bulk upsert) по таймеру
  или при достижении лимита.
- Throttling: синк одного агента срабатывает только при смене статуса или если
  с прошлого синка прошло больше sync_interval — это ограничивает write amplification.
- Drain Pattern: при остановке сервиса канал закрывается, воркер вычитывает
  остатки и делает финальный flush.
- Ошибки записи ретраятся с бэкоффом и считаются в метрику; наверх они не уходят.
*/

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra"
)

// AgentSnapshot — строка, уезжающая в legacy-хранилище.
type AgentSnapshot struct {
	AgentID       string
	Name          string
	Status        string
	LastHeartbeat time.Time
	Metrics       domain.AgentMetrics
	Model         string
	SyncedAt      time.Time
}

// Store определяет, куда физически пишутся снапшоты.
type Store interface {
	UpsertBatch(ctx context.Context, snapshots []AgentSnapshot) error
}

// ThrottleState хранит отметку последнего синка агента ("status|unix").
// В проде это Redis: состояние делится между репликами сервиса.
type ThrottleState interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string) error
}

type redisThrottle struct {
	rdb *redis.Client
}

func NewRedisThrottle(rdb *redis.Client) ThrottleState {
	return redisThrottle{rdb: rdb}
}

func (r redisThrottle) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (r redisThrottle) Set(ctx context.Context, key, val string) error {
	return r.rdb.Set(ctx, key, val, 0).Err()
}

type Syncer struct {
	ch       chan AgentSnapshot
	repo     Store
	throttle ThrottleState
	logger   *zap.Logger
	wg       sync.WaitGroup

	syncInterval  time.Duration
	retryAttempts uint

	failures  prometheus.Counter
	queueFill prometheus.Gauge

	now func() time.Time // подменяется в тестах

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Submit после остановки.
	isClosed int32
}

func NewSyncer(repo Store, throttle ThrottleState, cfg infra.LegacyConfig, logger *zap.Logger,
	failures prometheus.Counter, queueFill prometheus.Gauge) *Syncer {
	return &Syncer{
		ch:            make(chan AgentSnapshot, cfg.QueueSize),
		repo:          repo,
		throttle:      throttle,
		logger:        logger.With(zap.String("mod", "legacy-sync")),
		syncInterval:  cfg.SyncInterval,
		retryAttempts: cfg.RetryAttempts,
		failures:      failures,
		queueFill:     queueFill,
		now:           time.Now,
	}
}

func (s *Syncer) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (s *Syncer) Stop() {
	atomic.StoreInt32(&s.isClosed, 1)
	time.Sleep(10 * time.Millisecond)

	s.logger.Info("stopping legacy syncer: closing channel and flushing queue...")
	close(s.ch)
	s.wg.Wait()
	s.logger.Info("legacy syncer stopped gracefully")
}

// Submit ставит снапшот в очередь, если троттлинг пропускает.
// Любой исход — не ошибка для вызывающего: синк строго best-effort.
func (s *Syncer) Submit(ctx context.Context, snapshot AgentSnapshot) {
	if !s.NeedsSync(ctx, snapshot.AgentID, snapshot.Status) {
		return
	}
	s.markSynced(ctx, snapshot.AgentID, snapshot.Status)

	if atomic.LoadInt32(&s.isClosed) == 1 {
		s.logger.Warn("snapshot dropped: syncer is stopping", zap.String("agent_id", snapshot.AgentID))
		return
	}

	// Load Shedding: переполненная очередь не блокирует heartbeat.
	select {
	case s.ch <- snapshot:
		s.queueFill.Set(float64(len(s.ch)))
	default:
		s.failures.Inc()
		s.logger.Error("legacy queue overflow, snapshot dropped",
			zap.String("agent_id", snapshot.AgentID))
	}
}

// NeedsSync — синкаем при смене статуса или по истечении sync_interval.
// Состояние троттлинга не трогает, поэтому вызов безопасно повторять: отметку
// ставит Submit. Недоступность хранилища резолвится в "синкать" — лишняя
// запись дешевле потерянной.
func (s *Syncer) NeedsSync(ctx context.Context, agentID, status string) bool {
	val, err := s.throttle.Get(ctx, infra.LegacySyncKey(agentID))
	if err != nil {
		s.logger.Warn("throttle state read failed", zap.Error(err))
		return true
	}
	if val == "" {
		return true
	}

	parts := strings.SplitN(val, "|", 2)
	if len(parts) != 2 || parts[0] != status {
		return true
	}
	var lastUnix int64
	if _, perr := fmt.Sscanf(parts[1], "%d", &lastUnix); perr != nil {
		return true
	}
	return s.now().Sub(time.Unix(lastUnix, 0)) >= s.syncInterval
}

func (s *Syncer) markSynced(ctx context.Context, agentID, status string) {
	val := fmt.Sprintf("%s|%d", status, s.now().Unix())
	if err := s.throttle.Set(ctx, infra.LegacySyncKey(agentID), val); err != nil {
		s.logger.Warn("throttle state write failed", zap.Error(err))
	}
}

func (s *Syncer) worker() {
	defer s.wg.Done()

	batch := make([]AgentSnapshot, 0, 50)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush может быть закрыт
		err := retry.New(
			retry.Attempts(s.retryAttempts),
			retry.Delay(200*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
		).Do(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.repo.UpsertBatch(ctx, batch)
		})
		if err != nil {
			s.failures.Inc()
			s.logger.Error("legacy batch write failed after retries",
				zap.Int("batch_size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		s.queueFill.Set(float64(len(s.ch)))
	}

	for {
		select {
		case snapshot, ok := <-s.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки — финальный flush и выход.
				flush()
				s.logger.Info("legacy sync worker finished")
				return
			}
			batch = append(batch, snapshot)
			if len(batch) >= 50 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
