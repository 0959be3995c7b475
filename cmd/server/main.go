// Package main is the entrypoint for the Groove Charts Hub REST API server.
//
// The server exposes read endpoints for weekly charts, entry statistics, and
// group records, plus manual triggers for chart generation and records
// rebuilds. Scheduled generation runs in the worker binary; the server only
// runs generation on demand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/groovehub/groove-charts-hub/config"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/external/lastfm"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/persistence/postgres"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/persistence/redis"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/groovehub/groove-charts-hub/internal/interface/http"
	"github.com/groovehub/groove-charts-hub/internal/interface/http/handlers"
	"github.com/groovehub/groove-charts-hub/pkg/logger"
	"github.com/groovehub/groove-charts-hub/pkg/secrets"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HTTP.Enabled {
		return fmt.Errorf("HTTP_ENABLED is false, nothing to serve")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.AddCaller,
	})
	log.Info("starting Groove Charts Hub API server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE AND REDIS
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	redisCache, err := redis.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisCache.Close()
	chartCache := redis.NewChartCache(redisCache)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REPOSITORIES AND GENERATION PIPELINE
	// ─────────────────────────────────────────────────────────────────────────
	groupRepo := postgres.NewGroupRepository(dbConn)
	chartRepo := postgres.NewChartRepository(dbConn)
	statsRepo := postgres.NewStatsRepository(dbConn)
	recordsRepo := postgres.NewRecordsRepository(dbConn)
	jobQueue := postgres.NewJobsRepository(dbConn)

	lastfmCfg := lastfm.DefaultClientConfig(cfg.Lastfm.APIKey, cfg.Lastfm.SharedSecret)
	lastfmCfg.BaseURL = cfg.Lastfm.BaseURL
	lastfmCfg.Timeout = cfg.Lastfm.RequestTimeout
	lastfmCfg.RateLimiterConfig.RequestsPerSecond = cfg.Lastfm.RequestsPerSecond
	lastfmCfg.RateLimiterConfig.BurstSize = cfg.Lastfm.BurstSize
	lastfmCfg.Logger = slog.Default()
	lastfmClient := lastfm.NewClient(lastfmCfg)

	box, err := secrets.NewBox(cfg.App.SecretsKey)
	if err != nil {
		return fmt.Errorf("failed to init secrets box: %w", err)
	}

	// The manual generation endpoint runs the same pipeline the worker's
	// scheduled job does.
	generateJob := jobs.NewGenerateChartsJob(
		groupRepo, chartRepo, statsRepo, chartCache, jobQueue,
		lastfmClient, box, log,
		jobs.GenerateChartsConfig{
			AbortFailureRatio: cfg.Generation.AbortFailureRatio,
			InterWeekDelay:    cfg.Generation.InterWeekDelay,
			LatestChartTTL:    cfg.Generation.LatestChartTTL,
			GroupTimeout:      cfg.Generation.GroupTimeout,
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HEALTH CHECKS AND HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	healthChecker.AddCheck("cache", handlers.NewCacheCheck(redisCache))

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		Groups:        groupRepo,
		Charts:        chartRepo,
		ChartCache:    chartCache,
		Records:       recordsRepo,
		Stats:         statsRepo,
		Queue:         jobQueue,
		Generator:     generateJob,
		Logger:        log,
		HealthChecker: healthChecker,
	})

	errCh := server.StartAsync()
	log.Info("HTTP server listening", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}
