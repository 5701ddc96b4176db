package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/auth"
	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/internal/knowledge"
	"github.com/romcoding/architex/internal/server"
	"github.com/romcoding/architex/web/handlers"
)

// usageEventPruner is implemented by the SQL stores, which persist usage
// event IDs for retry dedupe.
type usageEventPruner interface {
	PruneUsageEvents(ctx context.Context, cutoff time.Time) (int, error)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the knowledge hub HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	events := handlers.NewWebSocketHub(logger, server.OriginPatterns(cfg.Server.AllowedOrigins)...)
	go events.Run()

	svc, err := newService(cfg, store, logger, reg, knowledge.WithPublisher(events))
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	authMW, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		return err
	}

	if pruner, ok := store.(usageEventPruner); ok {
		go pruneUsageEvents(ctx, pruner, cfg.Storage.UsageEventRetention, logger)
	}

	addr, done, err := server.Start(ctx, cfg, svc, server.Options{
		Version:  version,
		Logger:   logger,
		Auth:     authMW,
		Events:   events,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}
	logger.Info("architex started",
		zap.String("addr", addr),
		zap.String("engine", cfg.Storage.Engine),
		zap.String("security_mode", cfg.Security.Mode),
		zap.String("version", version))

	<-done
	return nil
}

// newAuthMiddleware validates bearer tokens when a secret is configured and,
// in development mode, lets anonymous requests act as the development
// principal.
func newAuthMiddleware(cfg *config.Config, logger *zap.Logger) (*auth.Middleware, error) {
	var tokens *auth.TokenService
	if cfg.Security.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
		if err != nil {
			return nil, err
		}
	}
	mw := auth.NewMiddleware(tokens, logger)
	if cfg.IsDevelopment() {
		p := cfg.Security.DevPrincipal()
		logger.Warn("development mode: unauthenticated requests act as the development principal",
			zap.String("principal", p.ID),
			zap.String("role", string(p.Role)))
		mw.WithDevelopmentPrincipal(p)
	}
	return mw, nil
}

// pruneUsageEvents drops dedupe records older than retention, once per
// retention/4 until ctx is done.
func pruneUsageEvents(ctx context.Context, pruner usageEventPruner, retention time.Duration, logger *zap.Logger) {
	if retention <= 0 {
		return
	}
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pruner.PruneUsageEvents(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("failed to prune usage events", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("pruned usage events", zap.Int("count", n))
			}
		}
	}
}
