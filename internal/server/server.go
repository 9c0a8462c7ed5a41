// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/riskgate/internal/aml"
	"github.com/mbd888/riskgate/internal/config"
	"github.com/mbd888/riskgate/internal/denylist"
	"github.com/mbd888/riskgate/internal/gateway"
	"github.com/mbd888/riskgate/internal/health"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/ml"
	"github.com/mbd888/riskgate/internal/onchain"
	"github.com/mbd888/riskgate/internal/ratelimit"
	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/security"
	"github.com/mbd888/riskgate/internal/traces"
	"github.com/mbd888/riskgate/internal/validation"
)

// Server wraps the HTTP server and the risk engine's moving parts.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	deny      *denylist.Checker
	refresher *denylist.Refresher
	cache     *risk.Cache
	sweeper   *risk.Sweeper
	engine    *risk.Aggregator
	gateway   *gateway.Gateway
	store     risk.Store
	mlClient  *ml.Client

	db            *sql.DB // nil if using in-memory audit store
	chainOverride onchain.Provider
	rateLimiter   *ratelimit.Limiter
	healthChecks  *health.Registry
	router        *gin.Engine
	httpSrv       *http.Server
	cancelRunCtx  context.CancelFunc
	traceCleanup  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChainProvider injects the on-chain provider (for testing).
func WithChainProvider(p onchain.Provider) Option {
	return func(s *Server) {
		s.chainOverride = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Outbound targets are operator-configured but still get SSRF
	// screening outside development.
	if !cfg.IsDevelopment() {
		if err := s.validateOutboundURLs(); err != nil {
			return nil, err
		}
	}

	// Tracing (no-op without an OTLP endpoint)
	cleanup, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.traceCleanup = cleanup
	}

	// Audit store (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.store = risk.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL audit store", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = risk.NewMemoryStore()
		s.logger.Info("using in-memory audit store (verdict history will not persist)")
	}

	// Deny-list
	s.deny = denylist.NewChecker()
	if src := s.denySource(); src != nil {
		s.refresher = denylist.NewRefresher(s.deny, src, cfg.DenyListRefresh, s.logger)
		if err := s.refresher.LoadOnce(ctx); err != nil {
			return nil, fmt.Errorf("failed to load deny-list: %w", err)
		}
		s.logger.Info("deny-list loaded", "entries", s.deny.Len(), "version", s.deny.Version())
	} else {
		s.logger.Info("no deny-list source configured")
	}

	// On-chain provider
	chain := s.chainOverride
	if chain == nil {
		client, err := onchain.Dial(onchain.Config{
			ExplorerAPIURL: cfg.ExplorerAPIURL,
			ExplorerAPIKey: cfg.ExplorerAPIKey,
			ChainID:        cfg.ChainID,
			Timeout:        cfg.ProviderTimeout,
		}, cfg.RPCURL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create on-chain provider: %w", err)
		}
		chain = client
	}

	// Verdict cache and sweeper
	s.cache = risk.NewCache(cfg.CacheTTL)
	s.sweeper = risk.NewSweeper(s.cache, cfg.SweepInterval, s.logger)

	// Aggregator
	s.engine = risk.NewAggregator(s.deny, chain, s.cache, s.logger).
		WithStore(s.store).
		WithProviderTimeout(cfg.ProviderTimeout)

	if cfg.AMLEnabled {
		s.engine.WithAML(aml.NewClient(aml.Config{
			BaseURL: cfg.AMLAPIURL,
			APIKey:  cfg.AMLAPIKey,
			ChainID: cfg.ChainID,
			Timeout: cfg.ProviderTimeout,
		}, s.logger))
		s.logger.Info("AML screening enabled")
	}

	if cfg.MLEnabled {
		s.mlClient = ml.NewClient(ml.Config{
			BaseURL: cfg.MLServiceURL,
			ChainID: cfg.ChainID,
			Timeout: cfg.ProviderTimeout,
		}, s.logger)
		s.engine.WithML(s.mlClient)
		s.logger.Info("model-based scoring enabled", "url", cfg.MLServiceURL)
	}

	// Decision gateway
	s.gateway = gateway.New(s.engine, cfg.BlockThreshold, s.logger)
	s.logger.Info("decision gateway configured", "blockThreshold", s.gateway.Threshold())

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) validateOutboundURLs() error {
	targets := []struct {
		name, url string
	}{
		{"DENYLIST_URL", s.cfg.DenyListURL},
		{"AML_API_URL", s.cfg.AMLAPIURL},
		{"ML_SERVICE_URL", s.cfg.MLServiceURL},
	}
	for _, t := range targets {
		if t.url == "" {
			continue
		}
		if err := security.ValidateEndpointURL(t.url); err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
	}
	return nil
}

// denySource picks the configured deny-list source; file wins over URL.
func (s *Server) denySource() denylist.Source {
	if s.cfg.DenyListPath != "" {
		return denylist.FileSource{Path: s.cfg.DenyListPath}
	}
	if s.cfg.DenyListURL != "" {
		return denylist.HTTPSource{URL: s.cfg.DenyListURL}
	}
	return nil
}

func (s *Server) registerHealthChecks() {
	s.healthChecks.Register("denylist", func(ctx context.Context) health.Status {
		st := health.Status{Healthy: true}
		if s.refresher == nil {
			st.Detail = "no source configured"
			return st
		}
		st.Detail = fmt.Sprintf("%d entries, version %s", s.deny.Len(), s.deny.Version())
		return st
	})

	s.healthChecks.Register("cache", func(ctx context.Context) health.Status {
		return health.Status{
			Healthy: true,
			Detail:  fmt.Sprintf("%d verdicts", s.cache.Len()),
		}
	})

	if s.db != nil {
		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Healthy: true}
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	if s.mlClient != nil {
		s.healthChecks.Register("ml", func(ctx context.Context) health.Status {
			st := health.Status{Healthy: true}
			if !s.mlClient.IsAvailable(ctx) {
				// Degraded, not fatal: the engine falls back to
				// rule-only scoring.
				st.Detail = "model service unavailable, rule-only scoring active"
			}
			return st
		})
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(1 << 20))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	riskHandler := gateway.NewHandler(s.gateway, s.store)
	riskHandler.RegisterRoutes(v1)

	v1.POST("/risk/cache/sweep", s.sweepHandler)
	v1.GET("/denylist/:address", validation.AddressParamMiddleware(), s.denylistHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "riskgate",
		"description": "Hybrid wallet risk scoring for payment gating",
		"endpoints": gin.H{
			"verdict":  "GET /v1/risk/wallet/:address",
			"decision": "GET /v1/risk/wallet/:address/decision",
			"history":  "GET /v1/risk/wallet/:address/history",
			"denylist": "GET /v1/denylist/:address",
			"sweep":    "POST /v1/risk/cache/sweep",
		},
	})
}

// sweepHandler forces an immediate expired-verdict sweep.
func (s *Server) sweepHandler(c *gin.Context) {
	removed := s.cache.Sweep()
	logging.L(c.Request.Context()).Info("manual cache sweep", "removed", removed)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"removed": removed, "remaining": s.cache.Len()},
	})
}

// denylistHandler answers a membership check without producing a verdict.
func (s *Server) denylistHandler(c *gin.Context) {
	addr, err := validation.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	entry, listed := s.deny.Check(addr)
	data := gin.H{
		"address": addr,
		"listed":  listed,
		"version": s.deny.Version(),
	}
	if listed {
		data["reason"] = entry.Reason
		if !entry.AddedAt.IsZero() {
			data["addedAt"] = entry.AddedAt
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the verdict cache sweeper
	go s.sweeper.Start(runCtx)

	// Start deny-list refresh loop
	if s.refresher != nil {
		go s.refresher.Start(runCtx)
	}

	// DB pool stats for /metrics
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops the server and all background tasks.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.logger.Info("cache sweeper stopped")

	if s.refresher != nil {
		s.refresher.Stop()
		s.logger.Info("deny-list refresher stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if s.traceCleanup != nil {
		if err := s.traceCleanup(ctx); err != nil {
			s.logger.Warn("trace exporter close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
