package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/agentscan/registry-indexer/internal/bus"
	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/api/docs"
	"github.com/agentscan/registry-indexer/pkg/config"
)

// Ensure the generated swagger spec is registered
var _ = docs.SwaggerInfo

const shutdownCtxTimeout = 10 * time.Second

// Server is the read-only HTTP surface: REST queries over the store plus a
// WebSocket stream off the broadcast bus. Everything heavier (auth,
// pagination contracts, serialization guarantees) lives outside the indexer
// core.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	ws      *WSHandler
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates the API server.
func NewServer(
	cfg *config.APIConfig,
	st *store.Store,
	tracker *stats.Tracker,
	eventBus *bus.Bus,
	log *logger.Logger,
) *Server {
	handler := NewHandler(st, tracker, log)
	ws := NewWSHandler(eventBus, log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /api/v1/events", handler.GetEvents)
	mux.HandleFunc("GET /api/v1/events/stats", handler.GetEventStats)
	mux.HandleFunc("GET /api/v1/chains", handler.GetChains)
	mux.Handle("GET /ws", ws)

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	if cfg.RateLimit.Enabled {
		h = RateLimitMiddleware(cfg.RateLimit, log)(h)
	}
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	if cfg.CORS.Enabled {
		h = CORSMiddleware(cfg.CORS.AllowedOrigins)(h)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	return &Server{
		config:  cfg,
		handler: handler,
		ws:      ws,
		server:  httpServer,
		log:     log,
	}
}

// Start runs the API server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infof("Starting API server on %s", s.config.ListenAddress)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("API server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("Shutting down API server...")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown error: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}
