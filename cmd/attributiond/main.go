package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/footfall/internal/adapter/api"
	"github.com/V4T54L/footfall/internal/adapter/api/handler"
	"github.com/V4T54L/footfall/internal/adapter/api/middleware"
	"github.com/V4T54L/footfall/internal/adapter/clientip"
	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/adapter/pii"
	"github.com/V4T54L/footfall/internal/adapter/repository/memory"
	"github.com/V4T54L/footfall/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/footfall/internal/adapter/repository/redis"
	"github.com/V4T54L/footfall/internal/domain"
	"github.com/V4T54L/footfall/internal/pkg/config"
	"github.com/V4T54L/footfall/internal/pkg/logger"
	"github.com/V4T54L/footfall/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	m := metrics.NewAttributionMetrics(prometheus.DefaultRegisterer)

	// --- Start Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Initialize Use Cases and Services ---
	router := usecase.NewPartitionRouter(store, logger, m)
	writer := usecase.NewDurableWriter(router, store, usecase.WriterConfig{
		Retries:       cfg.WriteRetries,
		BaseDelay:     cfg.WriteRetryBaseDelay,
		QueueSize:     cfg.WriteQueueSize,
		Workers:       cfg.WriteWorkers,
		WarmupTimeout: cfg.WarmupTimeout,
	}, logger, m)

	if !cfg.IsProduction() && cfg.IPHashSecret == config.DefaultHashSecret {
		logger.Warn("using the default ip hash secret, set IP_HASH_SECRET before going to production")
	}
	hasher := clientip.NewHasher(cfg.IPHashSecret)
	resolver := clientip.NewResolver(cfg.FilterPrivateIPs, cfg.TrustPolicy())
	redactor := pii.NewRedactor(cfg.PIIRedactionFields, logger)

	recordUseCase := usecase.NewRecordUseCase(hasher, writer, redactor, logger)
	aggregation := usecase.NewAggregationService(router, logger, m)
	queryUseCase := usecase.NewQueryUseCase(router, aggregation, logger, m)

	// --- Initialize Server ---
	tracked, err := api.NewTrackedHandler(cfg.UpstreamURL, logger)
	if err != nil {
		logger.Error("invalid upstream url", "error", err)
		os.Exit(1)
	}
	tracked = middleware.Attribution(resolver, recordUseCase, cfg.StoreRawIP, logger)(tracked)

	reportHandler := handler.NewReportHandler(queryUseCase, recordUseCase, resolver, cfg.StoreRawIP, cfg.MaxEventSize, logger)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api.NewRouter(logger, reportHandler, cfg.ReportAPIKeys, tracked),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting attribution server", "addr", server.Addr, "backend", cfg.StorageBackend, "trust_proxy", cfg.TrustPolicy())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("attribution server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("attribution server shutdown failed", "error", err)
	}
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Error("failed to drain pending events", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}

// openStore connects the configured backend. Connectivity is not checked here;
// the writer's warmup does that on the first event.
func openStore(cfg *config.Config, logger *slog.Logger) (domain.PartitionStore, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.WriteWorkers * 4)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return postgres.NewPartitionStore(db, logger), func() { db.Close() }, nil

	case config.BackendRedis:
		opts, err := redisOptions(cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		return redisrepo.NewPartitionStore(client, logger), func() { client.Close() }, nil

	case config.BackendMemory:
		logger.Warn("using in-memory storage, events are lost on restart")
		return memory.NewPartitionStore(), func() {}, nil
	}
	return nil, nil, errors.New("unknown storage backend " + cfg.StorageBackend)
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}
