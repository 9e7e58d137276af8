package legacy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/domain"
	"github.com/xela07ax/fleetgate/internal/infra"
)

type capturingStore struct {
	mu      sync.Mutex
	batches [][]AgentSnapshot
}

func (s *capturingStore) UpsertBatch(ctx context.Context, snapshots []AgentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]AgentSnapshot, len(snapshots))
	copy(cp, snapshots)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *capturingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// Состояние троттлинга в памяти — вместо Redis.
type memThrottle struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemThrottle() *memThrottle {
	return &memThrottle{m: map[string]string{}}
}

func (t *memThrottle) Get(ctx context.Context, key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[key], nil
}

func (t *memThrottle) Set(ctx context.Context, key, val string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = val
	return nil
}

func (t *memThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Хранилище троттлинга недоступно: каждый вызов — ошибка.
type downThrottle struct{}

func (downThrottle) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func (downThrottle) Set(ctx context.Context, key, val string) error {
	return errors.New("connection refused")
}

func newTestSyncer(store Store, throttle ThrottleState, queueSize int) *Syncer {
	return NewSyncer(store, throttle,
		infra.LegacyConfig{QueueSize: queueSize, SyncInterval: time.Minute, RetryAttempts: 1},
		zap.NewNop(),
		prometheus.NewCounter(prometheus.CounterOpts{Name: "failures"}),
		prometheus.NewGauge(prometheus.GaugeOpts{Name: "fill"}),
	)
}

func snapshot(agentID string) AgentSnapshot {
	now := time.Now()
	return AgentSnapshot{
		AgentID:       agentID,
		Name:          agentID,
		Status:        string(domain.StatusHealthy),
		LastHeartbeat: now,
		SyncedAt:      now,
	}
}

func TestSyncer_DrainsQueueOnStop(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, newMemThrottle(), 16)
	s.Start()

	ctx := context.Background()
	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		s.Submit(ctx, snapshot(id))
	}

	// Stop закрывает канал и дожидается финального flush
	s.Stop()

	if got := store.total(); got != 3 {
		t.Fatalf("synced %d snapshots, want 3", got)
	}
}

func TestSyncer_SubmitAfterStopIsDropped(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, newMemThrottle(), 16)
	s.Start()
	s.Stop()

	// Не должно паниковать записью в закрытый канал
	s.Submit(context.Background(), snapshot("agent-late"))

	if got := store.total(); got != 0 {
		t.Fatalf("synced %d snapshots after stop, want 0", got)
	}
}

func TestSyncer_OverflowShedsInsteadOfBlocking(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, downThrottle{}, 1) // воркер не запущен: очередь забивается сразу

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Submit(ctx, snapshot("agent-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit must never block the caller")
	}

	// Единственный поместившийся снапшот доезжает при остановке
	s.Start()
	s.Stop()
	if got := store.total(); got != 1 {
		t.Fatalf("synced %d snapshots, want 1 (rest shed)", got)
	}
}

func TestSyncer_SameStatusWithinIntervalSuppressed(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, newMemThrottle(), 16)
	s.Start()

	ctx := context.Background()
	s.Submit(ctx, snapshot("agent-1"))
	s.Submit(ctx, snapshot("agent-1")) // тот же статус, интервал не истек
	s.Stop()

	if got := store.total(); got != 1 {
		t.Fatalf("synced %d snapshots, want 1 (second throttled)", got)
	}
}

func TestSyncer_StatusChangeFiresImmediately(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, newMemThrottle(), 16)
	s.Start()

	ctx := context.Background()
	s.Submit(ctx, snapshot("agent-1"))

	errored := snapshot("agent-1")
	errored.Status = string(domain.StatusError)
	s.Submit(ctx, errored)
	s.Stop()

	if got := store.total(); got != 2 {
		t.Fatalf("synced %d snapshots, want 2 (status change bypasses throttle)", got)
	}
}

func TestSyncer_IntervalElapsedFiresAgain(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, newMemThrottle(), 16)
	s.Start()

	base := time.Now()
	s.now = func() time.Time { return base }

	ctx := context.Background()
	s.Submit(ctx, snapshot("agent-1"))

	// SyncInterval в тестовом конфиге — минута
	s.now = func() time.Time { return base.Add(61 * time.Second) }
	s.Submit(ctx, snapshot("agent-1"))
	s.Stop()

	if got := store.total(); got != 2 {
		t.Fatalf("synced %d snapshots, want 2 (interval elapsed)", got)
	}
}

func TestSyncer_ThrottleFailsOpenWhenStateUnavailable(t *testing.T) {
	store := &capturingStore{}
	s := newTestSyncer(store, downThrottle{}, 16)
	s.Start()

	ctx := context.Background()
	s.Submit(ctx, snapshot("agent-1"))
	s.Submit(ctx, snapshot("agent-1"))
	s.Stop()

	// Лишняя запись дешевле потерянной: без состояния синкаем всё
	if got := store.total(); got != 2 {
		t.Fatalf("synced %d snapshots, want 2 (fail open)", got)
	}
}

func TestSyncer_NeedsSyncDoesNotTouchState(t *testing.T) {
	throttle := newMemThrottle()
	s := newTestSyncer(&capturingStore{}, throttle, 16)

	ctx := context.Background()
	if !s.NeedsSync(ctx, "agent-1", string(domain.StatusHealthy)) {
		t.Fatal("empty state must mean sync is due")
	}
	// Повторный вызов — тот же ответ: отметку ставит только Submit
	if !s.NeedsSync(ctx, "agent-1", string(domain.StatusHealthy)) {
		t.Fatal("NeedsSync must be repeatable")
	}
	if throttle.size() != 0 {
		t.Fatalf("NeedsSync wrote %d keys, want 0", throttle.size())
	}
}
