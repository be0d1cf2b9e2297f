// Package server exposes the daemon's HTTP API, SSE stream, and dashboard.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmux/agentmux/internal/afterwork"
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/httpmw"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/mesh"
	"github.com/agentmux/agentmux/internal/monitor"
	"github.com/agentmux/agentmux/internal/sse"
	"github.com/agentmux/agentmux/internal/store"
	"github.com/agentmux/agentmux/internal/terminal"
)

// Version is reported by /api/health.
const Version = "0.1.0"

// TerminalDriver is the pane control surface the API needs.
type TerminalDriver interface {
	SendText(ctx context.Context, h *terminal.Handle, text string) error
	SendApprove(ctx context.Context, h *terminal.Handle) error
	SendReject(ctx context.Context, h *terminal.Handle) error
	Interrupt(ctx context.Context, h *terminal.Handle) error
	StopSession(ctx context.Context, h *terminal.Handle) error
	Spawn(ctx context.Context, agent, prompt, cwd string, mux *terminal.Handle) (*terminal.Handle, error)
}

// Server is the daemon's HTTP server.
type Server struct {
	cfg       config.ServerConfig
	store     *store.Store
	bus       bus.EventBus
	hub       *sse.Hub
	monitor   *monitor.Monitor
	mesh      *mesh.Router
	afterwork *afterwork.Router
	terminal  TerminalDriver
	logger    *logger.Logger

	engine    *gin.Engine
	http      *http.Server
	startTime time.Time
}

// Deps bundles the components the server dispatches to.
type Deps struct {
	Store     *store.Store
	Bus       bus.EventBus
	Hub       *sse.Hub
	Monitor   *monitor.Monitor
	Mesh      *mesh.Router
	Afterwork *afterwork.Router
	Terminal  TerminalDriver
	Logger    *logger.Logger
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		bus:       deps.Bus,
		hub:       deps.Hub,
		monitor:   deps.Monitor,
		mesh:      deps.Mesh,
		afterwork: deps.Afterwork,
		terminal:  deps.Terminal,
		logger:    deps.Logger,
		startTime: time.Now(),
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(deps.Logger, "agentmuxd"))
	engine.Use(httpmw.OtelTracing("agentmuxd"))
	engine.Use(corsMiddleware())

	s.engine = engine
	s.registerRoutes()

	s.http = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     engine,
		ReadTimeout: cfg.ReadTimeoutDuration(),
		// WriteTimeout stays at the configured value; the default of zero
		// keeps long-lived SSE streams alive.
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Engine returns the underlying gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.POST("/events", s.postEvent)
		api.GET("/events", s.listEvents)
		api.GET("/events/stream", s.hub.Stream)
		api.POST("/heartbeat", s.heartbeat)
		api.GET("/health", s.health)

		api.GET("/agents", s.listAgents)
		api.POST("/agents/spawn", s.spawnAgent)
		api.GET("/agents/:id", s.getAgent)
		api.GET("/agents/:id/events", s.agentEvents)
		api.GET("/agents/:id/children", s.agentChildren)
		api.POST("/agents/:id/stop", s.stopAgent)
		api.POST("/agents/:id/approve", s.approveAgent)
		api.POST("/agents/:id/reject", s.rejectAgent)
		api.POST("/agents/:id/send", s.sendToAgent)
		api.POST("/agents/:id/interrupt", s.interruptAgent)

		api.POST("/messages", s.postMessage)
		api.GET("/messages", s.listMessages)
		api.GET("/messages/:id", s.getMessage)
		api.POST("/messages/:id/approve", s.approveMessage)
		api.POST("/messages/:id/reject", s.rejectMessage)

		api.POST("/tasks", s.postTask)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/next", s.nextTask)
		api.GET("/tasks/:id", s.getTask)
		api.PUT("/tasks/:id", s.updateTask)
		api.DELETE("/tasks/:id", s.deleteTask)

		api.POST("/rules", s.postRule)
		api.GET("/rules", s.listRules)
		api.DELETE("/rules/:id", s.deleteRule)

		api.GET("/context", s.listContext)
		api.POST("/context", s.setContext)
		api.DELETE("/context/:key", s.deleteContext)

		api.GET("/preferences", s.listPreferences)
		api.POST("/preferences", s.setPreference)
		api.DELETE("/preferences/:key", s.deletePreference)
	}

	s.engine.GET("/", s.dashboard)
	s.engine.GET("/ui", s.dashboard)
	s.engine.GET("/dashboard", s.dashboard)
}

// corsMiddleware allows the dashboard (served from file:// or another local
// port) to call the API. The daemon binds loopback only, so permissive CORS
// does not widen exposure.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
