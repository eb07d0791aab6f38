package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/state"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/version"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8080,
	}
}

// Server is the HTTP front of the daemon: manager commands, snapshot,
// websocket upgrade and health.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *state.Registry

	engine  *gin.Engine
	httpSrv *http.Server
	ln      net.Listener
	started time.Time
}

// New assembles the router. The server does not listen until Start.
func New(cfg Config, registry *state.Registry, manager *ManagerHandler, realtime *RealtimeHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultConfig().Host
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "httpapi"),
		registry: registry,
		started:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())
	engine.Use(corsMiddleware())

	engine.GET("/healthz", s.healthz)

	api := engine.Group("/api")
	{
		manager.RegisterRoutes(api)
		realtime.RegisterRoutes(api)
	}

	s.engine = engine
	s.httpSrv = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address after Start. Useful when Port is 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and begins serving. Bind errors surface
// here; serve errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.started = time.Now()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", ln.Addr().String())
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.logger.Info("HTTP server stopped")
	return err
}

// healthz handles GET /healthz.
func (s *Server) healthz(c *gin.Context) {
	sessionState := "unknown"
	if s.registry != nil {
		sessionState = s.registry.SessionState().String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"session": sessionState,
		"version": version.Version,
		"commit":  version.Commit,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Upgraded websocket requests hold the connection open; their
		// duration is the connection lifetime, which is expected.
		s.logger.Debug("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// corsMiddleware allows dashboard origins to call the API directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
