// Package server provides HTTP server initialization and lifecycle management
// for the Architex knowledge hub API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/auth"
	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/web/handlers"
)

// shutdownTimeout bounds graceful shutdown once the context is cancelled.
const shutdownTimeout = 5 * time.Second

// Options carries the collaborators the server mounts. Only Auth is
// required for the knowledge routes to be reachable.
type Options struct {
	// Version is reported by the health endpoint.
	Version string

	Logger *zap.Logger

	// Auth guards /api/knowledge and /ws.
	Auth *auth.Middleware

	// Events, when set, is served at /ws.
	Events *handlers.WebSocketHub

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// NewHandler builds the full route table wrapped in the standard middleware
// chain.
func NewHandler(cfg *config.Config, hub handlers.Hub, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	authMW := opts.Auth
	if authMW == nil {
		authMW = auth.NewMiddleware(nil, logger)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	api := handlers.NewAPIHandlers(hub, logger)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/knowledge/assets", api.CreateAsset)
	apiMux.HandleFunc("GET /api/knowledge/assets", api.ListAssets)
	apiMux.HandleFunc("GET /api/knowledge/assets/{id}", api.GetAsset)
	apiMux.HandleFunc("PATCH /api/knowledge/assets/{id}", api.UpdateAsset)
	apiMux.HandleFunc("DELETE /api/knowledge/assets/{id}", api.DeleteAsset)
	apiMux.HandleFunc("POST /api/knowledge/assets/{id}/ratings", api.RateAsset)
	apiMux.HandleFunc("GET /api/knowledge/assets/{id}/neighbors", api.Neighbors)
	apiMux.HandleFunc("GET /api/knowledge/assets/{id}/conflicts", api.ConflictsOf)
	apiMux.HandleFunc("GET /api/knowledge/assets/{id}/relationships", api.Relationships)
	apiMux.HandleFunc("POST /api/knowledge/relationships", api.LinkAssets)
	apiMux.HandleFunc("DELETE /api/knowledge/relationships", api.UnlinkAssets)
	apiMux.HandleFunc("POST /api/knowledge/search", api.Search)
	apiMux.HandleFunc("GET /api/knowledge/search", api.Search)
	apiMux.HandleFunc("GET /api/knowledge/analytics", api.Analytics)

	mux := http.NewServeMux()

	// Health endpoint needs no auth; used by load balancers and monitoring.
	health := handlers.NewHealthHandler(version, cfg.Storage.Engine)
	mux.Handle("GET /api/health", health)
	mux.Handle("GET /health", health)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.Handle("/api/knowledge/", authMW.RequireAuth(apiMux))

	if opts.Events != nil {
		mux.Handle("GET /ws", authMW.RequireAuth(opts.Events))
	}

	limiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)

	var handler http.Handler = mux
	handler = handlers.RateLimitMiddleware(handler, limiter)
	handler = handlers.RequestLogger(logger)(handler)
	handler = handlers.CORS(cfg.Server.AllowedOrigins)(handler)
	handler = handlers.SecurityHeaders(handler)
	return handler
}

// Start listens on cfg.Server.Addr() and serves until ctx is cancelled,
// then shuts down gracefully. It returns the actual address being listened
// on (useful for testing with port 0) and a channel that is closed once the
// server has fully stopped.
func Start(ctx context.Context, cfg *config.Config, hub handlers.Hub, opts Options) (string, <-chan struct{}, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           NewHandler(cfg, hub, opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return "", nil, err
	}
	addr := listener.Addr().String()
	logger.Info("http server listening", zap.String("addr", addr))

	done := make(chan struct{})
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()
		if opts.Events != nil {
			opts.Events.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		logger.Info("http server stopped")
	}()

	return addr, done, nil
}

// OriginPatterns converts allowed origins into the host patterns the
// websocket handshake matches against.
func OriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
