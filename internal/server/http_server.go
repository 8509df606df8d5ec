package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer creates an HTTP server for the relay's routes with
// production timeouts. WriteTimeout is left unset because upgraded
// connections manage their own deadlines.
func (s *Server) CreateServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens until the server is shut down. A graceful shutdown
// is not reported as an error.
func (s *Server) StartServer(server *http.Server) error {
	s.log.Info("server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every client and waits for
// their goroutines, each bounded by the configured shutdown timeout.
func (s *Server) Shutdown(server *http.Server) error {
	s.log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	httpErr := server.Shutdown(ctx)
	if httpErr != nil {
		s.log.Warn("HTTP server shutdown error", zap.Error(httpErr))
	}

	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)
	return errors.Join(httpErr, hubErr)
}
