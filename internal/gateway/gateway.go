// ABOUTME: Gateway orchestrator wiring upstream clients, dispatcher, and HTTP server
// ABOUTME: Manages listener lifecycle and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/funnelworks/funnel-gateway/internal/auth"
	"github.com/funnelworks/funnel-gateway/internal/config"
	"github.com/funnelworks/funnel-gateway/internal/dispatch"
	"github.com/funnelworks/funnel-gateway/internal/gencache"
	"github.com/funnelworks/funnel-gateway/internal/metrics"
	"github.com/funnelworks/funnel-gateway/internal/notify"
	"github.com/funnelworks/funnel-gateway/internal/ratelimit"
	"github.com/funnelworks/funnel-gateway/internal/store"
	"github.com/funnelworks/funnel-gateway/internal/upstream"
	"github.com/funnelworks/funnel-gateway/internal/workflow"
)

// Gateway owns the dispatcher and the HTTP server fronting it.
type Gateway struct {
	config     *config.Config
	dispatcher *dispatch.Dispatcher
	audit      *store.AuditLog
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the full component graph from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	hc := &http.Client{Timeout: cfg.Upstreams.Timeout}

	users := upstream.NewUserClient(cfg.Upstreams.UserURL, hc, logger)
	memberships := upstream.NewMembershipClient(cfg.Upstreams.MembershipURL, hc, logger)
	gpt := upstream.NewGPTClient(cfg.Upstreams.GPTURL, hc, logger)
	powerplays := upstream.NewPowerplayClient(cfg.Upstreams.PowerplayURL, hc, logger)

	var audit *store.AuditLog
	if cfg.Database.Path != "" {
		var err error
		audit, err = store.NewAuditLog(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		logger.Info("per-email rate limiting enabled", "rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	}

	deps := dispatch.Deps{
		Users:       users,
		Memberships: memberships,
		Cache:       gencache.New(gpt, logger),
		Workflow:    workflow.NewEngine(powerplays, gpt, logger),
		Notifier:    notify.New(hc, logger),
		Limiter:     limiter,
		Metrics:     m,
		Logger:      logger,
	}
	if audit != nil {
		deps.Audit = audit
	}

	g := &Gateway{
		config:     cfg,
		dispatcher: dispatch.New(deps),
		audit:      audit,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)

	var dispatchHandler http.Handler = http.HandlerFunc(g.handleDispatch)
	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		dispatchHandler = auth.Middleware(verifier)(dispatchHandler)
		logger.Info("bearer auth enabled on dispatch endpoints")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}
	mux.Handle("/", dispatchHandler)
	mux.Handle("/dispatch", dispatchHandler)

	if m != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, m.Handler())
		logger.Info("metrics enabled", "path", path)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler exposes the HTTP handler tree, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	if g.audit != nil {
		if err := g.audit.Close(); err != nil {
			return fmt.Errorf("audit log close: %w", err)
		}
	}
	return nil
}
