package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ratinglens/internal/api"
	"ratinglens/internal/batcher"
	"ratinglens/internal/cache"
	"ratinglens/internal/config"
	"ratinglens/internal/dispatch"
	"ratinglens/internal/lookup"
	"ratinglens/internal/status"
	"ratinglens/internal/ws"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Server represents the main server
type Server struct {
	cfg        *config.Config
	store      *cache.MemoryStore
	client     *lookup.Client
	coalescer  *batcher.Coalescer
	service    *dispatch.Service
	monitor    *status.Monitor
	engine     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a new Server
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	store, err := cache.NewMemoryStore(cfg.Cache.Size, cfg.Cache.GetTTLDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info().
		Int("size", cfg.Cache.Size).
		Int("ttl", cfg.Cache.TTL).
		Msg("cache enabled")

	client := lookup.NewClientFromConfig(cfg, logger)
	if cfg.IsCircuitBreakerEnabled() {
		logger.Info().
			Int("failureThreshold", cfg.CircuitBreaker.FailureThreshold).
			Int("recoveryTimeout", cfg.CircuitBreaker.RecoveryTimeout).
			Msg("circuit breaker enabled")
	}

	coalescer := batcher.NewCoalescer(client, batcher.ConfigFromBatching(cfg.Batching), logger)
	logger.Info().
		Int("maxSize", cfg.Batching.MaxSize).
		Int("quietPeriod", cfg.Batching.QuietPeriod).
		Msg("batching enabled")

	service := dispatch.NewService(store, client, coalescer, logger)
	monitor := status.NewMonitor(client, cfg.GetHealthCheckIntervalDuration(), cfg.GetRequestTimeoutDuration(), logger)

	s := &Server{
		cfg:       cfg,
		store:     store,
		client:    client,
		coalescer: coalescer,
		service:   service,
		monitor:   monitor,
		logger:    logger,
	}
	s.engine = s.newEngine()
	return s, nil
}

func (s *Server) newEngine() *gin.Engine {
	if s.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), api.RequestLogger(s.logger))

	api.NewHandler(s.service, s.monitor, Version, s.cfg.MaxBatchTitles).RegisterRoutes(engine)

	wsHandler := ws.NewHandler(s.service, s.monitor, s.cfg.MaxBatchTitles, s.logger)
	engine.GET("/ws", gin.WrapH(wsHandler))

	return engine
}

// Handler returns the HTTP handler serving the API and WebSocket endpoints
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Service returns the rating front door
func (s *Server) Service() *dispatch.Service {
	return s.service
}

// Monitor returns the remote status monitor
func (s *Server) Monitor() *status.Monitor {
	return s.monitor
}

// Start starts the status monitor and the HTTP server
func (s *Server) Start() error {
	s.monitor.Start()

	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", addr).
			Str("lookupURL", s.client.BaseURL()).
			Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("http", fmt.Sprintf("http://%s/api", addr)).
		Str("ws", fmt.Sprintf("ws://%s/ws", addr)).
		Msg("endpoint available")

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.monitor.Stop()

	// flushes pending batches before the cache is released
	if err := s.service.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("pending batches not drained")
	}

	if httpErr != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", httpErr)
	}

	stats := s.service.Stats()
	s.logger.Info().
		Uint64("hits", stats.Hits).
		Uint64("misses", stats.Misses).
		Float64("hitRatio", stats.HitRatio).
		Uint64("batches", stats.Batches).
		Msg("server stopped")
	return nil
}
