package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thinkpilot/nodeflow/node"
)

// StatusProvider returns a snapshot of the node state.
type StatusProvider interface {
	Status() (node.Status, error)
}

// Server exposes the health, status and metrics of a host run node, and lets the wakeup pin be pulled remotely.
type Server struct {
	addr    string
	status  StatusProvider
	pin     chan<- struct{}
	metrics http.Handler
	engine  *gin.Engine
	logger  *slog.Logger
}

// New constructs a server with its routes. `pin` and `metrics` may be nil.
func New(addr string, status StatusProvider, pin chan<- struct{}, metrics http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		status:  status,
		pin:     pin,
		metrics: metrics,
		engine:  engine,
		logger:  slog.Default().With("component", "api", "addr", addr),
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("Serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/status", s.handleStatus)
	s.engine.POST("/pin", s.handlePin)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.status.Status()
	if err != nil {
		s.logger.Error("Failed to read status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePin(c *gin.Context) {
	if s.pin == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no wakeup pin"})
		return
	}
	select {
	case s.pin <- struct{}{}:
		c.JSON(http.StatusAccepted, gin.H{"status": "pin pulled"})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "pin already pending"})
	}
}
