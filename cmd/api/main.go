package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/rx-portal/internal/config"
	"github.com/jwalitptl/rx-portal/internal/handler/health"
	"github.com/jwalitptl/rx-portal/internal/handler/prescription"
	promhandler "github.com/jwalitptl/rx-portal/internal/handler/prometheus"
	"github.com/jwalitptl/rx-portal/internal/middleware"
	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/internal/repository"
	"github.com/jwalitptl/rx-portal/internal/repository/memory"
	"github.com/jwalitptl/rx-portal/internal/repository/postgres"
	"github.com/jwalitptl/rx-portal/internal/router"
	prescriptionService "github.com/jwalitptl/rx-portal/internal/service/prescription"
	"github.com/jwalitptl/rx-portal/pkg/logger"
	"github.com/jwalitptl/rx-portal/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level: logger.ParseLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	log.Logger = *appLogger.Zerolog()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry, "rx_portal", "api")

	// Initialize repository backend
	repo, checks, cleanup, err := newRepository(cfg, appLogger)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Repository.Backend).Msg("failed to initialize repository")
	}
	defer cleanup()

	// Initialize services
	svc := prescriptionService.NewService(repo, prescriptionService.Config{
		CacheEnabled:    cfg.Cache.Enabled,
		CacheTTL:        cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, appLogger, appMetrics)

	// Setup router
	r := router.NewRouter(
		prescription.NewHandler(svc),
		health.NewHandler(checks),
		promhandler.New(registry),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout(),
			CORSConfig: middleware.CORSConfig{
				AllowOrigins: cfg.CORS.AllowedOrigins,
				AllowMethods: cfg.CORS.AllowedMethods,
				AllowHeaders: cfg.CORS.AllowedHeaders,
				MaxAge:       cfg.CORS.MaxAge,
			},
		},
	)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", srv.Addr).Str("backend", cfg.Repository.Backend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

func loadSeed(path string) ([]model.Prescription, error) {
	if path == "" {
		return memory.DefaultSeed()
	}
	return memory.LoadSeed(path)
}

// newRepository builds the configured backend together with its readiness
// checks and a cleanup func.
func newRepository(cfg *config.Config, appLogger *logger.Logger) (repository.PrescriptionRepository, map[string]health.Check, func(), error) {
	switch cfg.Repository.Backend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := migrateAndSeed(ctx, db, cfg.Repository.SeedPath); err != nil {
				db.Close()
				return nil, nil, nil, err
			}
			appLogger.Info("database migrated", "database", cfg.Database.Name)
		}

		base := postgres.NewBaseRepository(db)
		repo := postgres.NewPrescriptionRepository(base, postgres.NewOutboxRepository(base))
		checks := map[string]health.Check{"database": base.Ping}
		return repo, checks, func() { db.Close() }, nil

	default:
		seed, err := loadSeed(cfg.Repository.SeedPath)
		if err != nil {
			return nil, nil, nil, err
		}
		appLogger.Info("using in-memory repository", "prescriptions", len(seed))
		return memory.NewPrescriptionRepository(seed), nil, func() {}, nil
	}
}

func migrateAndSeed(ctx context.Context, db *sqlx.DB, seedPath string) error {
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	seed, err := loadSeed(seedPath)
	if err != nil {
		return err
	}
	return postgres.Seed(ctx, db, seed)
}
