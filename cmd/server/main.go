package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/api"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/config"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/database"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/registry"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/services"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to create redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	gateway := tenantstore.NewGateway(postgresPool, logger)
	if err := gateway.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Repositories
	entities := repositories.NewPostgresEntityRepository(gateway)
	syncLog := repositories.NewPostgresSyncLogRepository(gateway)
	conflicts := repositories.NewPostgresConflictRepository(gateway)
	syncMetrics := repositories.NewPostgresMetricsRepository(gateway)
	checkpoints := repositories.NewPostgresCheckpointRepository(gateway)
	retryStore := repositories.NewRedisRetryStore(redisClient)
	maintenance := repositories.NewRedisMaintenanceStore(redisClient)

	// Core services
	connections := registry.NewRegistry(maintenance, logger)
	processor := services.NewSyncEntryProcessor(entities, syncLog, connections, logger)
	retries := services.NewRetryQueueManager(retryStore, processor, syncLog, logger, cfg.RetryPollInterval)
	coordinator := services.NewStagedSyncCoordinator(processor, retries, syncMetrics, logger)
	reconciler := services.NewChecksumReconciler(entities, conflicts, syncMetrics, checkpoints, logger)
	tokens := services.NewTokenService(cfg.JWTSecret)

	retries.Start(ctx)

	server := api.NewServer(cfg, logger, api.Services{
		Tokens:     tokens,
		Sync:       coordinator,
		Reconciler: reconciler,
		Retries:    retries,
		Registry:   connections,
		Store:      gateway,
		Cache:      redisClient,
	})
	if err := server.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
