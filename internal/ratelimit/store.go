package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BucketState — персистентное состояние одного token-bucket.
type BucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// Store абстрагирует хранилище бакетов. Боевой вариант — Redis;
// in-memory реализация используется в тестах.
type Store interface {
	// Get возвращает (nil, nil), если бакет еще не создавался.
	Get(ctx context.Context, key string) (*BucketState, error)
	Put(ctx context.Context, key string, state BucketState) error
}

// RedisStore хранит каждый бакет в hash: поля tokens и last_refill (unix-наносекунды).
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*BucketState, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	tokens, err := strconv.ParseFloat(vals["tokens"], 64)
	if err != nil {
		return nil, err
	}
	refillNs, err := strconv.ParseInt(vals["last_refill"], 10, 64)
	if err != nil {
		return nil, err
	}

	return &BucketState{
		Tokens:     tokens,
		LastRefill: time.Unix(0, refillNs),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, state BucketState) error {
	return s.rdb.HSet(ctx, key,
		"tokens", strconv.FormatFloat(state.Tokens, 'f', -1, 64),
		"last_refill", strconv.FormatInt(state.LastRefill.UnixNano(), 10),
	).Err()
}

// MemoryStore — потокобезопасная мапа для тестов.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]BucketState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]BucketState)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*BucketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.buckets[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, state BucketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[key] = state
	return nil
}
