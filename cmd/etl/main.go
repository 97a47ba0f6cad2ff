package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/indicator-etl/internal/adapter/filesource"
	httpadapter "github.com/couchcryptid/indicator-etl/internal/adapter/http"
	"github.com/couchcryptid/indicator-etl/internal/adapter/httpsource"
	kafkaadapter "github.com/couchcryptid/indicator-etl/internal/adapter/kafka"
	"github.com/couchcryptid/indicator-etl/internal/cache"
	"github.com/couchcryptid/indicator-etl/internal/config"
	"github.com/couchcryptid/indicator-etl/internal/database"
	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
	"github.com/couchcryptid/indicator-etl/internal/pipeline"
	"github.com/couchcryptid/indicator-etl/internal/resolver"
	"github.com/couchcryptid/indicator-etl/internal/store"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("database close error", "error", err)
		}
	}()

	cacheStore, err := cache.New(db, cache.Options{
		MaxBytes:      cfg.CacheMaxBytes,
		MaxEntries:    cfg.CacheMaxEntries,
		MemoryEntries: cfg.CacheMemoryEntries,
	}, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	indicators, err := store.New(db, cfg.Municipality, clock, logger)
	if err != nil {
		logger.Error("failed to initialize indicator store", "error", err)
		os.Exit(1)
	}

	api := httpsource.NewClient(cfg.FetchTimeout, logger)
	fetchers := map[domain.Tier]domain.Fetcher{
		domain.TierAPIPrimary:    api,
		domain.TierAPISecondary:  api,
		domain.TierCSVFallback:   filesource.New(cfg.RawDir),
		domain.TierConvertedFile: filesource.New(cfg.ConvertedDir),
	}

	routes, jobs := pipeline.Catalog(cfg.Sources)
	res := resolver.New(cacheStore, fetchers, resolver.Options{
		Sources: routes,
		TTLs:    cfg.TTLs,
		Retries: cfg.FetchRetries,
	}, observability.NewCollector(metrics), clock, logger)

	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = writer
		logger.Info("change feed enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("change feed disabled")
	}

	runner := pipeline.NewRunner(res, indicators, publisher, jobs, cfg.Municipality,
		cfg.JobConcurrency, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:      httpadapter.AllReady{indicators, runner},
		Indicators: indicators,
		Resolver:   res,
		Cache:      cacheStore,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion. A zero interval runs once and exits.
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := runner.Run(ctx, cfg.RunInterval); err != nil {
			logger.Error("runner error", "error", err)
		}
		if cfg.RunInterval == 0 {
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-runDone:
	case <-shutdownCtx.Done():
		logger.Warn("runner did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
