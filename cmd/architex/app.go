package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/internal/knowledge"
	"github.com/romcoding/architex/internal/logging"
	"github.com/romcoding/architex/internal/resilience"
	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/internal/storage/memory"
	"github.com/romcoding/architex/internal/storage/postgres"
	"github.com/romcoding/architex/internal/storage/sqlite"
)

// usageEventCacheSize bounds the memory engine's retry dedupe set.
const usageEventCacheSize = 10000

// loadConfig loads configuration and builds the process logger.
func loadConfig(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the configured storage engine.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case config.EngineMemory:
		logger.Warn("using the memory engine; data is lost on exit")
		return memory.NewStore(usageEventCacheSize)

	case config.EngineSQLite:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		path := cfg.Storage.SQLitePath()
		logger.Info("opening sqlite store", zap.String("path", path))
		return sqlite.NewStore(ctx, path, sqlite.WithLogger(logger))

	case config.EnginePostgres:
		logger.Info("opening postgres store",
			zap.String("dsn", logging.SanitizeDSN(cfg.Storage.PostgresDSN)))
		return postgres.NewStore(ctx, cfg.Storage.PostgresDSN, postgres.WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
}

// newService wires the knowledge service over store. reg may be nil when no
// metrics are exported.
func newService(cfg *config.Config, store storage.Store, logger *zap.Logger, reg prometheus.Registerer, extra ...knowledge.Option) (*knowledge.Service, error) {
	var metrics *knowledge.Metrics
	if reg != nil {
		metrics = knowledge.NewMetrics(reg)
	}
	guard := resilience.NewGuard(resilience.Config{
		Timeout:     cfg.Storage.Timeout,
		MaxFailures: cfg.Storage.BreakerMaxFailures,
		Cooldown:    cfg.Storage.BreakerCooldown,
	}, resilience.WithLogger(logger), resilience.WithRetryHook(metrics.IncRetry))

	opts := []knowledge.Option{
		knowledge.WithLogger(logger),
		knowledge.WithMetrics(metrics),
		knowledge.WithGuard(guard),
		knowledge.WithSearchLimit(cfg.Search.DefaultLimit),
		knowledge.WithTopUsage(cfg.Search.TopUsage),
	}
	return knowledge.NewService(store, append(opts, extra...)...)
}
