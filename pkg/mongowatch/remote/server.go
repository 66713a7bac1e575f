// Package remote makes one queue reachable across process boundaries.
// A single owner process serves the queue over HTTP; every other
// process talks to it through a stateless Client that implements the
// same queue interface.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/admirito/mongowatch/pkg/mongowatch/queue"
)

// DefaultMaxServerWait caps a single blocking fetch on the server. A
// client wanting to wait longer repeats the call.
const DefaultMaxServerWait = 30 * time.Second

// putRequest is the wire form of a Put.
type putRequest struct {
	ID        string         `json:"watch_id" binding:"required"`
	Fields    map[string]any `json:"fields"`
	Final     bool           `json:"final"`
	TimeoutMS int64          `json:"timeout_ms"`
}

// sizeResponse is the wire form of a Size answer.
type sizeResponse struct {
	Size int `json:"size"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServerConfig configures an owner server.
type ServerConfig struct {
	Queue  queue.Interface
	Logger *slog.Logger
	// MaxWait caps each blocking fetch; zero means DefaultMaxServerWait.
	MaxWait time.Duration
	Debug   bool
}

// Server exposes a queue to remote stub clients.
type Server struct {
	gin     *gin.Engine
	queue   queue.Interface
	logger  *slog.Logger
	maxWait time.Duration
}

// NewServer builds the owner HTTP server around cfg.Queue.
func NewServer(cfg ServerConfig) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxServerWait
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		gin:     engine,
		queue:   cfg.Queue,
		logger:  logger,
		maxWait: maxWait,
	}

	v1 := engine.Group("v1")
	v1.POST("records", s.putRecord)
	v1.GET("records/next", s.nextRecord)
	v1.GET("queue/size", s.queueSize)
	v1.POST("queue/drain", s.drainQueue)
	engine.GET("healthz", s.health)

	return s
}

// Handler returns the underlying HTTP handler, for embedding in tests
// or an existing server.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.gin.Run(addr)
}

func (s *Server) putRecord(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var timeout time.Duration
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	err := s.queue.Put(c.Request.Context(), req.ID, req.Fields, req.Final, timeout)
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, queue.ErrLateUpdate):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, queue.ErrClosed):
		c.JSON(http.StatusGone, errorResponse{Error: err.Error()})
	case errors.Is(err, queue.ErrFull):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) nextRecord(c *gin.Context) {
	maxWait := time.Duration(0)
	if ms := c.Query("max_wait_ms"); ms != "" {
		parsed, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid max_wait_ms"})
			return
		}
		maxWait = time.Duration(parsed) * time.Millisecond
	}
	if maxWait > s.maxWait {
		maxWait = s.maxWait
	}

	snap, err := s.queue.Get(c.Request.Context(), maxWait)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, queue.ErrClosed):
		c.JSON(http.StatusGone, errorResponse{Error: err.Error()})
	case errors.Is(err, queue.ErrEmpty):
		c.Status(http.StatusNoContent)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) queueSize(c *gin.Context) {
	size, err := s.queue.Size(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, sizeResponse{Size: size})
}

func (s *Server) drainQueue(c *gin.Context) {
	if err := s.queue.Drain(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger logs each request through slog, skipping the blocking
// fetch path to keep poll noise out of the logs.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/v1/records/next" {
			return
		}
		logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Float64("elapsed_ms", float64(time.Since(start))/float64(time.Millisecond)),
		)
	}
}
