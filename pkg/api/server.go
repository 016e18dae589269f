package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sagaclaw/sagaclaw/config"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

// Server is the API server lifecycle contract.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the transaction API over HTTP.
type HTTPServer struct {
	server *http.Server
	logger logger.Logger
	cfg    *config.Config
}

// NewHTTPServer builds an HTTP server from configuration.
func NewHTTPServer(cfg *config.Config, log logger.Logger, h Handlers) *HTTPServer {
	router := NewRouter(cfg, log, h)

	return &HTTPServer{
		cfg:    cfg,
		logger: log,
		server: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.HTTP.ReadTimeout,
			WriteTimeout:   cfg.Server.HTTP.WriteTimeout,
			IdleTimeout:    cfg.Server.HTTP.IdleTimeout,
			MaxHeaderBytes: cfg.Server.HTTP.MaxHeaderBytes,
		},
	}
}

// Start begins serving and blocks until the listener closes. It returns
// nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info("API server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	return s.server.Shutdown(ctx)
}
