package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/sbds/pkg/config"
	"github.com/steemit/sbds/pkg/logging"
)

// Server serves the status API while a run is in progress.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates the HTTP server around a router
func NewServer(cfg *config.ServerConfig, router *Router, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	router.SetupRoutes(engine)

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logging.WithComponent("status-server"),
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens in the background until ctx is done, then shuts down
// gracefully. The returned channel yields the serve error, if any.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		s.logger.Info("Server starting", zap.String("address", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server forced to shutdown", zap.Error(err))
		}
		s.logger.Info("Server exited")
	}()

	return errs, nil
}
