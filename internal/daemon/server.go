package daemon

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jpvalente/adsync/internal/backend"
	"github.com/jpvalente/adsync/internal/logging"
	"github.com/jpvalente/adsync/internal/mirror"
	"github.com/jpvalente/adsync/internal/queue"
	"github.com/jpvalente/adsync/internal/status"
	"github.com/jpvalente/adsync/internal/syncer"
)

// Navigator points the attached browser somewhere else.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Server is the daemon's local HTTP control API, consumed by adsyncctl and
// adsyncview. It binds to loopback only; there is no auth layer.
type Server struct {
	session   string
	machine   *status.Machine
	mirror    *mirror.DB
	store     *backend.Store
	broadcast *logging.Broadcast
	nav       Navigator
	coord     *syncer.Coordinator
	walker    *queue.Walker
	logger    *zap.Logger

	router *gin.Engine
	server *http.Server
}

// NewServer creates the control API server.
func NewServer(p Params, machine *status.Machine, db *mirror.DB, store *backend.Store,
	broadcast *logging.Broadcast, nav Navigator, coord *syncer.Coordinator,
	walker *queue.Walker, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		session:   p.SessionName,
		machine:   machine,
		mirror:    db,
		store:     store,
		broadcast: broadcast,
		nav:       nav,
		coord:     coord,
		walker:    walker,
		logger:    logger,
		router:    router,
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/conversations", s.handleConversations)
		api.GET("/conversations/:id/messages", s.handleMessages)
		api.GET("/logs", s.handleLogs)
		api.POST("/navigate", s.handleNavigate)
		api.POST("/sync/delete-all", s.handleDeleteAll)
	}
}

// Start blocks serving the API until Stop.
func (s *Server) Start() error {
	s.registerRoutes()
	s.logger.Info("control api listening", zap.String("addr", s.server.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the API down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": s.session,
		"state":   s.machine.Current(),
	})
}

func (s *Server) handleConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	convs, err := s.mirror.ListConversations(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) handleMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	msgs, err := s.mirror.ListMessages(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleLogs(c *gin.Context) {
	after, _ := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	entries := s.broadcast.Since(after)
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleNavigate(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.nav.Navigate(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleDeleteAll wipes the backend tables, the local mirror, and every
// in-memory dedup structure, so the next pass re-syncs from scratch. The
// explicit confirm field keeps a stray curl from destroying the store.
func (s *Server) handleDeleteAll(c *gin.Context) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"confirm\": true}"})
		return
	}

	s.logger.Warn("deleting all synced records")
	if err := s.store.DeleteAll(c.Request.Context()); err != nil {
		// The backend may now be partially wiped; report and keep local
		// state so the operator can decide.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.mirror.DeleteAllMessages(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.mirror.DeleteAllConversations(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.coord.Cache().Reset()
	s.walker.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
