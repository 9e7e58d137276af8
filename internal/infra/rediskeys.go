package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "fleetgate"
)

const (
	// RedisKeyRateLimitPrefix — префикс хэшей token-bucket'ов.
	// Полный ключ: fleetgate:ratelimit:{identifier}:{limitType}
	RedisKeyRateLimitPrefix = RedisNamespace + ":ratelimit:"

	// RedisKeyLegacySyncPrefix — таймстемпы последнего legacy-синка по агентам.
	RedisKeyLegacySyncPrefix = RedisNamespace + ":legacy:last_sync:"
)

// RateLimitBucketKey собирает композитный ключ бакета.
func RateLimitBucketKey(identifier, limitType string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyRateLimitPrefix, identifier, limitType)
}

// LegacySyncKey — ключ троттлинга синка конкретного агента.
func LegacySyncKey(agentID string) string {
	return RedisKeyLegacySyncPrefix + agentID
}
