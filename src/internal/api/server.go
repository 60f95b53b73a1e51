// Package api exposes the automation engine over HTTP: REST management
// endpoints plus a websocket feed of live task tokens.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"aria-core/src/internal/automation"
	"aria-core/src/internal/config"
	"aria-core/src/internal/store"
)

type Server struct {
	Config *config.Config
	Store  *store.Store
	Orch   *automation.Orchestrator
	Engine *gin.Engine

	// Websocket subscribers keyed by task id; "" subscribes to all tasks.
	wsMu      sync.RWMutex
	wsWatches map[string][]*watcher
}

func NewServer(cfg *config.Config, st *store.Store, orch *automation.Orchestrator) *Server {
	e := gin.Default()
	s := &Server{
		Config:    cfg,
		Store:     st,
		Orch:      orch,
		Engine:    e,
		wsWatches: make(map[string][]*watcher),
	}
	s.Engine.Use(s.corsMiddleware())
	s.Engine.Use(s.authMiddleware())
	s.setupRoutesRest()
	s.setupRoutesWebSocket()
	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, X-Aria-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.Config.Server.Key
		if key == "" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Aria-Key")
		if provided == "" {
			// Browsers cannot set custom headers on websocket dials.
			provided = c.Query("token")
		}
		if provided != key {
			slog.Warn("unauthorized request", "path", c.Request.URL.Path, "remote", c.ClientIP(), "provided", provided != "")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing server key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutesRest() {
	v1 := s.Engine.Group("/api/v1")
	{
		v1.POST("/automation/run", s.handleRunCycle)

		v1.GET("/instructions", s.handleListInstructions)
		v1.POST("/instructions", s.handleCreateInstruction)
		v1.PUT("/instructions/:id/status", s.handleUpdateInstructionStatus)

		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/stale-tasks", s.handleListStaleTasks)

		v1.GET("/activity", s.handleListActivity)

		v1.PUT("/integrations/:provider", s.handleSetIntegration)
		v1.GET("/integrations", s.handleGetIntegrations)
	}
}

func (s *Server) setupRoutesWebSocket() {
	s.Engine.GET("/ws", s.handleWebsocket)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 60 * time.Second,
		ReadTimeout:       600 * time.Second,
		WriteTimeout:      600 * time.Second,
		IdleTimeout:       1200 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	ctxShut, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server graceful shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
