// Package diag provides a read-only diagnostics HTTP surface for the
// stub resolver: health, runtime stats, and the active listener set.
//
// Unlike the teacher's management API this carries no write operations
// and no secrets, so it needs no API key.
package diag

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/stubresolve/internal/config"
	"github.com/jroosing/stubresolve/internal/diag/handlers"
	"github.com/jroosing/stubresolve/internal/diag/middleware"
)

// Server is the diagnostics HTTP server.
type Server struct {
	cfg        *config.DiagConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a diagnostics server bound to cfg.Host:cfg.Port.
func New(cfg *config.DiagConfig, h *handlers.Handler, logger *slog.Logger) *Server {
	if cfg == nil {
		panic("diag.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	RegisterRoutes(engine, h)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer}
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// Engine returns the underlying gin engine, mostly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
