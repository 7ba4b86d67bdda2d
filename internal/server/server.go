// Package server exposes the orchestrator over HTTP and WebSocket. It is a
// thin translation layer; all behavior lives in the manager.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kory/internal/config"
	"kory/internal/logging"
	"kory/internal/manager"
	"kory/internal/store"
)

// Server wires the HTTP API and the event stream.
type Server struct {
	cfg     *config.Config
	manager *manager.Manager
	store   *store.Store
	ws      *Hub
	logger  logging.Logger
	http    *http.Server
}

func New(cfg *config.Config, mgr *manager.Manager, st *store.Store, hub *Hub) *Server {
	return &Server{
		cfg:     cfg,
		manager: mgr,
		store:   st,
		ws:      hub,
		logger:  logging.NewComponentLogger("server"),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	r.GET("/ws", s.ws.handle)
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/sessions/:id/messages", s.getMessages)

		api.POST("/sessions/:id/process", s.process)
		api.POST("/sessions/:id/user-input", s.userInput)
		api.POST("/sessions/:id/response", s.sessionResponse)
		api.POST("/sessions/:id/apply-changes", s.applyChanges)
		api.GET("/sessions/:id/changes", s.getChanges)
		api.POST("/sessions/:id/cancel", s.cancelSession)

		api.GET("/status", s.getStatus)
		api.POST("/cancel", s.cancelAll)
		api.POST("/workers/:id/cancel", s.cancelWorker)
		api.POST("/yolo", s.setYolo)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		Title    string `json:"title"`
		ParentID string `json:"parentId"`
	}
	_ = c.ShouldBindJSON(&req)

	session, err := s.store.CreateSession(c.Request.Context(), req.Title, req.ParentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSession(c *gin.Context) {
	err := s.store.DeleteSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getMessages(c *gin.Context) {
	messages, err := s.store.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) process(c *gin.Context) {
	var req struct {
		Message        string `json:"message"`
		Model          string `json:"model"`
		ReasoningLevel string `json:"reasoningLevel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.manager.Process(c.Param("id"), req.Message, req.Model, req.ReasoningLevel); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
}

func (s *Server) userInput(c *gin.Context) {
	var req struct {
		Selection string `json:"selection"`
		Text      string `json:"text"`
		RequestID string `json:"requestId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resolved := s.manager.HandleUserInput(c.Param("id"), req.Selection, req.Text, req.RequestID)
	if !resolved {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (s *Server) sessionResponse(c *gin.Context) {
	var req struct {
		Accepted *bool `json:"accepted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Accepted == nil {
		badRequest(c, fmt.Errorf("accepted is required"))
		return
	}
	result := s.manager.HandleSessionResponse(c.Request.Context(), c.Param("id"), *req.Accepted)
	c.JSON(http.StatusOK, result)
}

func (s *Server) applyChanges(c *gin.Context) {
	var req manager.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result := s.manager.ApplySessionChanges(c.Request.Context(), c.Param("id"), req)
	c.JSON(http.StatusOK, result)
}

func (s *Server) getChanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"changes": s.manager.GetSessionChanges(c.Param("id"))})
}

func (s *Server) cancelSession(c *gin.Context) {
	s.manager.CancelSessionWorkers(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetStatus())
}

func (s *Server) cancelAll(c *gin.Context) {
	s.manager.Cancel()
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) cancelWorker(c *gin.Context) {
	if !s.manager.CancelWorker(c.Param("id")) {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) setYolo(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, fmt.Errorf("enabled is required"))
		return
	}
	s.manager.SetYoloMode(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"yoloMode": *req.Enabled})
}
