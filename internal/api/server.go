// Package api serves the run history and live worker status over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/voice-relay/internal/api/handler"
	"github.com/cuongbtq/voice-relay/internal/api/router"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps the HTTP server exposing the API routes
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a Server for the given handler dependencies
func NewServer(cfg ServerConfig, deps *handler.Dependencies) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router.SetupRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: deps.Logger,
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start serves in the background. The returned channel receives at most one
// error if the server stops for any reason other than Shutdown.
func (s *Server) Start() <-chan error {
	errChan := make(chan error, 1)

	s.logger.Info("Starting HTTP server",
		slog.String("address", s.srv.Addr),
		slog.Duration("read_timeout", s.srv.ReadTimeout),
		slog.Duration("write_timeout", s.srv.WriteTimeout),
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed",
				slog.Any("error", err),
			)
			errChan <- err
		}
	}()

	return errChan
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}
