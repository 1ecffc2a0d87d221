// Package web serves the capture HTTP API and streams session events to
// websocket clients.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/health"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/state"
	"github.com/mgangumalla/focus/internal/storage"
	"github.com/mgangumalla/focus/internal/telemetry"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// Session is the capture session the API drives
type Session interface {
	Submit(ctx context.Context, img image.Image) (string, <-chan *capture.Outcome, error)
	Reset()
	Snapshot() capture.Status
}

// CaptureStore serves stored captures
type CaptureStore interface {
	Get(ctx context.Context, id string) (*state.CaptureRecord, error)
	ImagePath(ctx context.Context, id string, variant storage.Variant) (string, error)
	Delete(ctx context.Context, id string) error
}

// CaptureLister lists capture history
type CaptureLister interface {
	ListCaptures(ctx context.Context, filter state.CaptureFilter) ([]state.CaptureRecord, error)
	CountCaptures(ctx context.Context, filter state.CaptureFilter) (int, error)
}

// MetricsSource samples runtime metrics
type MetricsSource interface {
	Collect(ctx context.Context) (*telemetry.Metrics, error)
}

// Dependencies are the components behind the API. Store, Captures,
// Metrics and Health are optional; their routes answer 503 when unset.
type Dependencies struct {
	Session  Session
	Store    CaptureStore
	Captures CaptureLister
	Metrics  MetricsSource
	Health   *health.Manager
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	hub        *Hub
	version    string
	startTime  time.Time

	mu        sync.Mutex
	addr      string
	hubCancel context.CancelFunc
	hubDone   chan struct{}
	maxUpload int64
}

// DefaultMaxUploadBytes caps an uploaded image
const DefaultMaxUploadBytes = 32 << 20

// NewServer creates a new web server service with its routes registered
func NewServer(cfg *config.WebConfig, deps Dependencies, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		deps:        deps,
		hub:         NewHub(log),
		version:     "dev",
		startTime:   time.Now(),
		maxUpload:   DefaultMaxUploadBytes,
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the address the server listens on once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener, starts the websocket hub and serves requests
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	hubCtx, hubCancel := context.WithCancel(context.WithoutCancel(ctx))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(hubCtx)
	}()
	if bus := s.GetEventBus(); bus != nil {
		s.hub.Forward(hubCtx, bus)
	}

	// WriteTimeout stays disabled: capture requests wait for the outcome and
	// websocket connections are long lived
	httpServer := &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = listener.Addr().String()
	s.hubCancel = hubCancel
	s.hubDone = hubDone
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", listener.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", listener.Addr().String())
	return nil
}

// Stop stops the web server and disconnects websocket clients
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer, hubCancel, hubDone := s.httpServer, s.hubCancel, s.hubDone
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopping)

	// hijacked websocket connections are not closed by Shutdown
	hubCancel()
	err := httpServer.Shutdown(ctx)

	select {
	case <-hubDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/health/live", s.handleLiveness)
		api.GET("/status", s.handleStatus)
		api.GET("/metrics", s.handleMetrics)

		session := api.Group("/session")
		{
			session.GET("", s.handleGetSession)
			session.POST("/reset", s.handleResetSession)
		}

		captures := api.Group("/captures")
		{
			captures.POST("", s.handleCreateCapture)
			captures.GET("", s.handleListCaptures)
			captures.GET("/:id", s.handleGetCapture)
			captures.GET("/:id/image", s.handleGetCaptureImage)
			captures.DELETE("/:id", s.handleDeleteCapture)
		}

		api.GET("/ws", s.handleWebSocket)
	}

	s.router.GET("/", s.handleIndex)
	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.handleIndex(c)
	})
}

// handleIndex serves the single page display
func (s *Server) handleIndex(c *gin.Context) {
	content, err := fs.ReadFile(staticContentFS, "index.html")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", content)
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
