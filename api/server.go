// Package api exposes the trading ledger over HTTP for the mini-app frontend.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/minitrade/binarybot/core"
)

// Server wraps the gin engine and its HTTP listener
type Server struct {
	settings *core.Settings
	ledger   core.Ledger
	placer   core.TradePlacer
	log      core.Logger
	router   *gin.Engine
	http     *http.Server
}

// NewServer builds the HTTP API around a ledger and a trade placer
func NewServer(ledger core.Ledger, placer core.TradePlacer, settings *core.Settings, log core.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		settings: settings,
		ledger:   ledger,
		placer:   placer,
		log:      log,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	server.registerUserRoutes(v1)
	server.registerTradeRoutes(v1)
	server.registerRequestRoutes(v1)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server.router = router
	return server
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving on the configured address, blocking until shutdown
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.settings.API.Addr,
		Handler: s.router,
	}

	s.log.Infof("HTTP API listening on %s", s.settings.API.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
