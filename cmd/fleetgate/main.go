package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/alert"
	"github.com/xela07ax/fleetgate/internal/crypto"
	"github.com/xela07ax/fleetgate/internal/handshake"
	"github.com/xela07ax/fleetgate/internal/heartbeat"
	"github.com/xela07ax/fleetgate/internal/infra"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
	"github.com/xela07ax/fleetgate/internal/legacy"
	"github.com/xela07ax/fleetgate/internal/ratelimit"
	"github.com/xela07ax/fleetgate/internal/repository/postgres"
	"github.com/xela07ax/fleetgate/internal/server"
	"github.com/xela07ax/fleetgate/internal/server/handler"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startupCancel()

	if err := rdb.Ping(startupCtx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Ping(startupCtx, db); err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}
	store := postgres.NewStore(db)

	// Вторичное хранилище прошлого поколения. Пишем туда write-behind очередью,
	// его недоступность на старте фатальна не больше, чем у основной базы.
	legacyRepo, err := postgres.NewLegacyRepo(cfg.Legacy.URL)
	if err != nil {
		logger.Fatal("legacy store init failed", zap.Error(err))
	}
	defer legacyRepo.Close()
	if err := legacyRepo.Ping(startupCtx); err != nil {
		logger.Fatal("legacy store unreachable", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := server.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics exporter stopped", zap.Error(err))
		}
	}()

	// 3. Криптография и токены
	encKey, err := cfg.Auth.EncryptionKey()
	if err != nil {
		logger.Fatal("bad encryption key", zap.Error(err))
	}
	envelope, err := crypto.NewEnvelope(encKey)
	if err != nil {
		logger.Fatal("envelope init failed", zap.Error(err))
	}
	tokens := auth.NewTokenService(cfg.Auth.SigningSecret, cfg.Auth.SessionTTL)

	// 4. Доменные сервисы
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(rdb), cfg.RateLimit, logger)

	syncer := legacy.NewSyncer(legacyRepo, legacy.NewRedisThrottle(rdb), cfg.Legacy, logger,
		metrics.LegacySyncFailures, metrics.LegacyQueueFill)
	syncer.Start()

	notifier := alert.NewWebhookNotifier(logger)
	alertEngine := alert.NewEngine(store, notifier, cfg.BaseURL, logger,
		metrics.AlertsDispatched, metrics.AlertNotifyFailures)

	authority := handshake.NewAuthority(store, envelope, limiter, tokens, logger)
	pipeline := heartbeat.NewPipeline(store, tokens, limiter, syncer, alertEngine, logger)

	// 5. HTTP-поверхность
	handlers := server.Handlers{
		Auth:      handler.NewAuthHandler(store, tokens, logger),
		Handshake: handler.NewHandshakeHandler(authority, metrics, logger),
		Heartbeat: handler.NewHeartbeatHandler(pipeline, metrics, logger),
		Install:   handler.NewInstallHandler(cfg.BaseURL, logger),
		Agents:    handler.NewAgentHandler(store, envelope, logger),
		Alerts:    handler.NewAlertHandler(store, logger),
		Policies:  handler.NewPolicyHandler(store, logger),
	}
	srv := server.NewServer(cfg, logger, metrics, tokens, handlers)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("fleetgate started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("fleetgate stopping...")

	// Даем 5 секунд на завершение запросов, потом дожимаем очередь синка
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	syncer.Stop()
	logger.Info("fleetgate exited properly")
}
