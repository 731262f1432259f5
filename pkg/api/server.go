package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/pkg/upload"
)

// Server provides the upload coordinator's HTTP server.
//
// The server supports graceful shutdown with a bounded timeout so
// in-flight chunk uploads get a chance to reach their commit point.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new upload API server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests.
func NewServer(config Config, service *upload.Service) *Server {
	config.applyDefaults()

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:      NewRouter(service),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
	}
}

// Start starts the HTTP server and blocks until the context is cancelled
// or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("upload API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("upload API shutdown signal received")
		// The cancelled ctx would abort in-flight requests immediately,
		// so shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("upload API failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("upload API shutdown error: %w", err)
			logger.Error("upload API shutdown error", logger.Err(err))
		} else {
			logger.Info("upload API stopped gracefully")
		}
	})
	return shutdownErr
}
