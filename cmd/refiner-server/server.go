package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/refiner/internal/config"
	"github.com/ehr/refiner/internal/domain/condition"
	"github.com/ehr/refiner/internal/platform/db"
	"github.com/ehr/refiner/internal/platform/middleware"
	"github.com/ehr/refiner/internal/platform/telemetry"
	"github.com/ehr/refiner/internal/refiner"
)

const version = "0.1.0"

// backing holds the connections a configuration source opened.
type backing struct {
	pool  *pgxpool.Pool
	redis *backend.Client
}

func (b *backing) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// openConditions builds the condition service for the configured source. The
// Redis cache fronts condition reads from Postgres only; a file store is
// already in memory.
func openConditions(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*condition.Service, *backing, error) {
	b := &backing{}

	switch cfg.ConfigSource {
	case config.SourceFile:
		store, err := condition.LoadStoreFile(cfg.ConfigFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("file", cfg.ConfigFile).Msg("loaded condition store")
		if cfg.RedisURL != "" {
			logger.Warn().Msg("REDIS_URL ignored for file configuration source")
		}
		return condition.NewService(store, store, store), b, nil

	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		b.pool = pool
		logger.Info().Msg("connected to database")

		repo := condition.NewPGRepository(pool)
		var conditions condition.ConditionRepository = repo
		if cfg.RedisURL != "" {
			client, err := openRedis(ctx, cfg.RedisURL)
			if err != nil {
				b.Close()
				return nil, nil, err
			}
			b.redis = client
			conditions = condition.NewCachedRepository(repo, client, logger, condition.WithTTL(cfg.CacheTTL))
			logger.Info().Dur("ttl", cfg.CacheTTL).Msg("condition cache enabled")
		}
		return condition.NewService(conditions, repo, repo), b, nil
	}
	return nil, nil, fmt.Errorf("unknown configuration source %q", cfg.ConfigSource)
}

func openRedis(ctx context.Context, url string) (*backend.Client, error) {
	opts, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := backend.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// buildServer assembles the Echo server around svc. pool may be nil.
func buildServer(cfg *config.Config, logger zerolog.Logger, svc *condition.Service, pool *pgxpool.Pool) *echo.Echo {
	metrics := telemetry.New(telemetry.Config{
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.RefineBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RefineTimeout))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"source":  cfg.ConfigSource,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.PrometheusHandler())

	r := refiner.New(svc, refiner.Options{Workers: cfg.RefineWorkers, Scope: cfg.SearchScope}, logger, metrics)
	refiner.NewHandler(r).RegisterRoutes(apiV1)
	condition.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	svc, b, err := openConditions(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open configuration source")
		return err
	}
	defer b.Close()

	e := buildServer(cfg, logger, svc, b.pool)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("source", cfg.ConfigSource).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
