// Package api provides the admin HTTP API: sandbox inspection, template
// listing, and a live lifecycle event feed for operators.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/config"
	"github.com/agent-protocol/sandbox-orchestrator/pkg/orchestrator"
)

// ServerConfig contains configuration for the admin API server. The
// listen address is owned by the caller; this only shapes the handler.
type ServerConfig struct {
	AllowOrigins []string
}

// Server is the admin HTTP API server.
type Server struct {
	config   *ServerConfig
	orch     *orchestrator.Orchestrator
	catalog  *config.Catalog
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// NewServer creates an admin API server over the given orchestrator.
func NewServer(cfg *ServerConfig, orch *orchestrator.Orchestrator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  cfg,
		orch:    orch,
		catalog: orch.Catalog(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	engine.Use(cors.New(corsConfig))

	engine.GET("/health", s.handleHealth)
	engine.GET("/sandboxes", s.handleListSandboxes)
	engine.GET("/sandboxes/:id", s.handleGetSandbox)
	engine.DELETE("/sandboxes/:id", s.handleDeleteSandbox)
	engine.GET("/templates", s.handleListTemplates)
	engine.GET("/events", s.handleEvents)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"sandboxes": len(s.orch.Sandboxes()),
	})
}

func (s *Server) handleListSandboxes(c *gin.Context) {
	records := s.orch.Sandboxes()
	if records == nil {
		records = []*orchestrator.SandboxRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sandboxes": records})
}

func (s *Server) handleGetSandbox(c *gin.Context) {
	record, ok := s.orch.Sandbox(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleDeleteSandbox(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	if err := s.orch.Delete(ctx, c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.catalog.List()})
}

// handleEvents upgrades to a websocket and streams lifecycle events until
// the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.orch.Subscribe()
	defer cancel()

	// Reader goroutine detects client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("Websocket write failed", "error", err)
				return
			}
		}
	}
}
