// internal/executor/server.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
	"github.com/xkilldash9x/navigator-cli/internal/config"
	"github.com/xkilldash9x/navigator-cli/internal/engine"
)

// ResumeFunc delivers the portal finish signal for one task, as if the human
// had clicked finish. It reports whether that task had an intervention
// waiting.
type ResumeFunc func(taskID string) bool

// Server exposes the executor's task API over HTTP.
type Server struct {
	cfg       config.ExecutorConfig
	registry  *Registry
	artifacts *ArtifactStore
	resume    ResumeFunc
	logger    *zap.Logger

	srv *http.Server
}

func NewServer(cfg config.ExecutorConfig, registry *Registry, artifacts *ArtifactStore, resume ResumeFunc, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		artifacts: artifacts,
		resume:    resume,
		logger:    logger.Named("executor"),
	}
}

// Router builds the gin router with all routes registered. Exposed so tests
// can drive it directly through httptest.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/tasks", s.handleSubmit)
	router.GET("/tasks", s.handleList)
	router.GET("/tasks/:id", s.handleDetail)
	router.GET("/tasks/:id/status", s.handleStatus)
	router.POST("/tasks/:id/pause", s.handlePause)
	router.POST("/tasks/:id/resume", s.handleResume)
	router.POST("/tasks/:id/cancel", s.handleCancel)
	router.GET("/tasks/:id/screenshots", s.handleScreenshots)
	router.GET("/tasks/:id/screenshots/:name", s.handleScreenshot)

	return router
}

// Start binds the listener and serves in the background, returning once the
// socket is live.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("executor failed to listen on %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Executor server terminated.", zap.Error(err))
		}
	}()

	s.logger.Info("Executor API listening.", zap.String("addr", addr))
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"tasks":  s.registry.Count(),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := s.registry.Submit(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.registry.List()})
}

// taskDetail is the full single-task view: the record, the live status
// projection, and the memory log.
type taskDetail struct {
	Task   schemas.Task           `json:"task"`
	Status schemas.ExecutorStatus `json:"status"`
	Memory []schemas.MemoryEntry  `json:"memory"`
}

func (s *Server) handleDetail(c *gin.Context) {
	eng, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, taskDetail{
		Task:   eng.Task(),
		Status: eng.Status(),
		Memory: eng.Memory(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	eng, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eng.Status())
}

type pauseRequest struct {
	Reason       string            `json:"reason"`
	Instructions string            `json:"instructions"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Server) handlePause(c *gin.Context) {
	eng, ok := s.lookup(c)
	if !ok {
		return
	}

	var req pauseRequest
	// An empty body is a valid pause request; only reject malformed JSON.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "Operator requested a pause."
	}

	if !eng.Pause().RequestPause(req.Reason, req.Instructions, req.Metadata) {
		c.JSON(http.StatusConflict, gin.H{"error": "a pause is already pending or active"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pause requested"})
}

func (s *Server) handleResume(c *gin.Context) {
	eng, ok := s.lookup(c)
	if !ok {
		return
	}

	if eng.Status().Status != schemas.StatusWaitingForUser {
		c.JSON(http.StatusConflict, gin.H{"error": "task is not waiting for a user"})
		return
	}
	if !s.resume(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending intervention to resume"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) handleCancel(c *gin.Context) {
	taskID := c.Param("id")
	if !s.registry.Cancel(taskID) {
		s.notFound(c, taskID)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

func (s *Server) handleScreenshots(c *gin.Context) {
	_, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.artifacts == nil {
		c.JSON(http.StatusOK, gin.H{"screenshots": []string{}})
		return
	}

	names, err := s.artifacts.List(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenshots": names})
}

func (s *Server) handleScreenshot(c *gin.Context) {
	_, ok := s.lookup(c)
	if !ok {
		return
	}
	if s.artifacts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifacts are disabled"})
		return
	}

	path, err := s.artifacts.Resolve(c.Param("id"), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(path)
}

// lookup resolves the :id path parameter, writing the 404 response itself
// when the task is unknown.
func (s *Server) lookup(c *gin.Context) (*engine.Engine, bool) {
	taskID := c.Param("id")
	eng, ok := s.registry.Get(taskID)
	if !ok {
		s.notFound(c, taskID)
		return nil, false
	}
	return eng, true
}

func (s *Server) notFound(c *gin.Context, taskID string) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown task %q", taskID)})
}
