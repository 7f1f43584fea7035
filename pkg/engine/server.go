package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ignitionstack/ember/pkg/engine/logging"
)

// Server serves the edge over TCP and the admin API over a unix socket
type Server struct {
	socketPath   string
	httpAddr     string
	handlers     *Handlers
	logger       logging.Logger
	httpServer   *http.Server
	socketServer *http.Server
	errChan      chan error
}

// NewServer creates a new Server instance
func NewServer(socketPath, httpAddr string, handlers *Handlers, logger logging.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		httpAddr:   httpAddr,
		handlers:   handlers,
		logger:     logger,
		errChan:    make(chan error, 2),
	}
}

// Start listens on both addresses and serves in the background. Serve
// failures are reported on Errors.
func (s *Server) Start(_ context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	socketListener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to start Unix socket listener: %w", err)
	}

	httpListener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		socketListener.Close()
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	// No write timeout on the edge: invocation deadlines bound it
	s.httpServer = &http.Server{
		Handler:           s.handlers.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.socketServer = &http.Server{
		Handler:      s.handlers.UnixSocketHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Printf("Unix socket server listening on %s", s.socketPath)
		if err := s.socketServer.Serve(socketListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errChan <- fmt.Errorf("unix socket server error: %w", err)
		}
	}()

	go func() {
		s.logger.Printf("HTTP server listening on %s", httpListener.Addr())
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	return nil
}

// Errors reports serve failures after Start
func (s *Server) Errors() <-chan error {
	return s.errChan
}

// Shutdown gracefully shuts down the servers
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("Error shutting down HTTP server: %v", err)
		}
	}

	if s.socketServer != nil {
		if err := s.socketServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("Error shutting down socket server: %v", err)
		}
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Errorf("Error removing socket file: %v", err)
	}

	s.logger.Printf("Servers shutdown complete")
	return nil
}
