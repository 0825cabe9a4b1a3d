package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-portal/internal/config"
	"github.com/jwalitptl/rx-portal/internal/email"
	"github.com/jwalitptl/rx-portal/internal/handler/health"
	promhandler "github.com/jwalitptl/rx-portal/internal/handler/prometheus"
	"github.com/jwalitptl/rx-portal/internal/middleware"
	"github.com/jwalitptl/rx-portal/internal/notify"
	"github.com/jwalitptl/rx-portal/internal/repository/postgres"
	"github.com/jwalitptl/rx-portal/internal/worker"
	"github.com/jwalitptl/rx-portal/pkg/logger"
	"github.com/jwalitptl/rx-portal/pkg/messaging/redis"
	"github.com/jwalitptl/rx-portal/pkg/metrics"
)

func setupHealthCheck(port int, checks map[string]health.Check, registry *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())

	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promhandler.New(registry).Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("health check server failed")
		}
	}()
	return srv
}

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize logger
	hostname, _ := os.Hostname()
	appLogger := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"worker_id": fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())})
	log.Logger = *appLogger.Zerolog()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry, "rx_portal", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := postgres.NewDB(connectCtx, cfg.Database)
	connectCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger.Zerolog(), appMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Redis broker")
	}
	defer broker.Close()

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	processor, err := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			Lease:         cfg.Outbox.Lease,
		},
		appLogger,
		appMetrics,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid outbox configuration")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLogger, appMetrics)

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.Server.MetricsPort, map[string]health.Check{
		"database": baseRepo.Ping,
		"redis":    broker.Ping,
	}, registry)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { processor.Start(ctx) })
	run(func() { cleanup.Start(ctx) })

	if cfg.Notify.Enabled {
		mailer := email.NewSMTPService(email.Config{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
		})
		notifier := notify.NewRefillNotifier(broker, mailer, cfg.Notify.To, appLogger, appMetrics)
		run(func() {
			if err := notifier.Run(ctx); err != nil {
				appLogger.Error(err, "refill notifier stopped")
			}
		})
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "health server forced to shutdown")
	}
}
