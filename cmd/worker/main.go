// Package main is the entrypoint for the Groove Charts Hub worker.
//
// The worker runs the background jobs:
// - Weekly chart generation for every active group
// - Records recalculation from the durable job queue
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/groovehub/groove-charts-hub/config"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/external/lastfm"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/persistence/postgres"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/persistence/redis"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/scheduler"
	"github.com/groovehub/groove-charts-hub/internal/infrastructure/scheduler/jobs"
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

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.AddCaller,
	})
	log.Info("starting Groove Charts Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to Redis")
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
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	groupRepo := postgres.NewGroupRepository(dbConn)
	chartRepo := postgres.NewChartRepository(dbConn)
	statsRepo := postgres.NewStatsRepository(dbConn)
	recordsRepo := postgres.NewRecordsRepository(dbConn)
	jobQueue := postgres.NewJobsRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EXTERNAL CLIENTS
	// ─────────────────────────────────────────────────────────────────────────
	lastfmCfg := lastfm.DefaultClientConfig(cfg.Lastfm.APIKey, cfg.Lastfm.SharedSecret)
	lastfmCfg.BaseURL = cfg.Lastfm.BaseURL
	lastfmCfg.Timeout = cfg.Lastfm.RequestTimeout
	lastfmCfg.RateLimiterConfig.RequestsPerSecond = cfg.Lastfm.RequestsPerSecond
	lastfmCfg.RateLimiterConfig.BurstSize = cfg.Lastfm.BurstSize
	lastfmCfg.Logger = setupSlog(cfg)
	lastfmCfg.Debug = cfg.App.Debug
	lastfmClient := lastfm.NewClient(lastfmCfg)

	box, err := secrets.NewBox(cfg.App.SecretsKey)
	if err != nil {
		return fmt.Errorf("failed to init secrets box: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. JOBS
	// ─────────────────────────────────────────────────────────────────────────
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
	recordsJob := jobs.NewCalculateRecordsJob(
		jobQueue, recordsRepo, statsRepo, chartRepo, log,
		jobs.CalculateRecordsConfig{BatchSize: cfg.Generation.RecordsBatchSize},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Timezone: time.UTC,
	})
	if err := sched.Register(generateJob, scheduler.NewIntervalSchedule(cfg.Scheduler.GenerateChartsInterval)); err != nil {
		return fmt.Errorf("failed to register generate_charts job: %w", err)
	}
	if err := sched.Register(recordsJob, scheduler.NewIntervalSchedule(cfg.Scheduler.CalculateRecordsInterval)); err != nil {
		return fmt.Errorf("failed to register calculate_records job: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("scheduler started",
			logger.Duration("generate_interval", cfg.Scheduler.GenerateChartsInterval),
			logger.Duration("records_interval", cfg.Scheduler.CalculateRecordsInterval),
		)
	} else {
		log.Warn("scheduler disabled via SCHEDULER_ENABLED, worker will idle")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	if sched.IsRunning() {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return nil
}

// setupSlog builds the slog logger handed to the Last.fm client, which logs
// through the standard library interface.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
