package infra

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Legacy    LegacyConfig    `mapstructure:"legacy"`
	Logger    LoggerConfig    `mapstructure:"logger"`

	// BaseURL используется для генерации install-скриптов и deep-links в алертах.
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricsPort  int           `mapstructure:"metrics_port"`
}

// DatabaseConfig описывает подключение к основному PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (rate-limit бакеты, троттлинг синка).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит секреты подписи и шифрования.
// SigningSecret — симметричный ключ HS256 для сессионных и консольных токенов.
// EncryptionKeyHex — 64 hex-символа (32 байта) для AES-256-GCM конверта.
type AuthConfig struct {
	SigningSecret    string        `mapstructure:"signing_secret"`
	EncryptionKeyHex string        `mapstructure:"encryption_key"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
}

// BucketSpec описывает один token-bucket: емкость и скорость пополнения (токенов/сек).
type BucketSpec struct {
	Capacity   float64 `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`
}

// RateLimitConfig — таблица лимитов: tier -> limit_type -> Bucket.
// Тиры: free, pro, enterprise. Типы: global, handshake, heartbeat.
type RateLimitConfig struct {
	Tiers map[string]map[string]BucketSpec `mapstructure:"tiers"`
}

// LegacyConfig — настройки write-behind синка во вторичное хранилище.
type LegacyConfig struct {
	URL           string        `mapstructure:"url"`
	QueueSize     int           `mapstructure:"queue_size"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`  // минимальный интервал между синками одного агента
	RetryAttempts uint          `mapstructure:"retry_attempts"` // попытки записи одного снапшота
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. Переменные окружения перекрывают файл: AUTH_SIGNING_SECRET перекроет auth.signing_secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла (его отсутствие — не ошибка, работаем на ENV и дефолтах)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 5. Секреты могут прилетать напрямую из ENV (Docker/K8s)
	cfg.Auth.SigningSecret = loadSecretResource(cfg.Auth.SigningSecret, "SESSION_SIGNING_SECRET")
	cfg.Auth.EncryptionKeyHex = loadSecretResource(cfg.Auth.EncryptionKeyHex, "ENCRYPTION_KEY")

	return &cfg, nil
}

// EncryptionKey декодирует hex-ключ конверта и валидирует длину (AES-256 = 32 байта).
func (c *AuthConfig) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex chars), got %d", len(key))
	}
	return key, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("base_url", "http://localhost:8080")

	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("legacy.queue_size", 1000)
	v.SetDefault("legacy.sync_interval", 5*time.Minute)
	v.SetDefault("legacy.retry_attempts", 3)

	// Таблица лимитов по умолчанию. Отсутствие пары (tier, type) в рантайме — fail-open.
	v.SetDefault("rate_limit.tiers", map[string]map[string]BucketSpec{
		"free": {
			"global":    {Capacity: 60, RefillRate: 1},
			"handshake": {Capacity: 10, RefillRate: 0.1},
			"heartbeat": {Capacity: 12, RefillRate: 0.2},
		},
		"pro": {
			"global":    {Capacity: 300, RefillRate: 5},
			"handshake": {Capacity: 30, RefillRate: 0.5},
			"heartbeat": {Capacity: 60, RefillRate: 1},
		},
		"enterprise": {
			"global":    {Capacity: 1000, RefillRate: 20},
			"handshake": {Capacity: 100, RefillRate: 2},
			"heartbeat": {Capacity: 300, RefillRate: 5},
		},
	})
}

// loadSecretResource — ENV имеет приоритет над значением из файла.
func loadSecretResource(current string, envKey string) string {
	if data := os.Getenv(envKey); data != "" {
		return data
	}
	return current
}
