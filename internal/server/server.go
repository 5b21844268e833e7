package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/shufflesync/internal/feed"
	"github.com/roach88/shufflesync/internal/lists"
	"github.com/roach88/shufflesync/internal/presence"
	"github.com/roach88/shufflesync/internal/session"
)

// UserHeader carries the caller's opaque user id.
const UserHeader = "X-User-ID"

// Defaults for Server options.
const (
	DefaultPingInterval    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Server exposes the session and list engines over HTTP and streams each
// topic's change feed and presence over WebSocket.
//
// Thread-safety: Server is safe for concurrent use once constructed.
type Server struct {
	sessions *session.Engine
	lists    *lists.Engine
	feed     feed.Feed
	presence *presence.Tracker
	logger   *slog.Logger

	origins         []string
	pingInterval    time.Duration
	shutdownTimeout time.Duration

	upgrader websocket.Upgrader
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins restricts CORS and WebSocket origins. "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithPingInterval sets how often stream connections are pinged. Each pong
// counts as a presence heartbeat.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithShutdownTimeout bounds graceful shutdown in ListenAndServe.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New builds a Server and its routes.
func New(sessions *session.Engine, lists *lists.Engine, f feed.Feed, p *presence.Tracker, opts ...Option) *Server {
	s := &Server{
		sessions:        sessions,
		lists:           lists,
		feed:            f,
		presence:        p,
		logger:          slog.Default(),
		origins:         []string{"*"},
		pingInterval:    DefaultPingInterval,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if len(s.origins) > 0 {
		r.Use(cors.New(s.corsConfig()))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ws := r.Group("/ws", requireUser(true))
	{
		ws.GET("/sessions/:id", s.streamSession)
		ws.GET("/lists/:id", s.streamList)
	}

	api := r.Group("/api/v1", requireUser(false))
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/sessions/:id/snapshot", s.sessionSnapshot)
		api.GET("/sessions/:id/participants", s.sessionParticipants)
		api.GET("/sessions/:id/actions", s.sessionActions)
		api.POST("/sessions/:id/leave", s.leaveSession)
		api.PUT("/sessions/:id/filters", s.updateFilters)
		api.PUT("/sessions/:id/ready", s.setReady)
		api.POST("/sessions/:id/start", s.startSession)
		api.POST("/sessions/:id/eliminations", s.eliminate)
		api.POST("/sessions/:id/winner", s.declareWinner)

		api.GET("/codes/:code", s.lookupSession)
		api.POST("/codes/:code/join", s.joinSession)

		api.POST("/lists", s.createList)
		api.GET("/lists", s.listsForUser)
		api.GET("/lists/:id", s.getList)
		api.PATCH("/lists/:id", s.updateList)
		api.DELETE("/lists/:id", s.deleteList)
		api.GET("/lists/:id/snapshot", s.listSnapshot)
		api.POST("/lists/:id/share-link", s.generateShareLink)
		api.DELETE("/lists/:id/share-link", s.revokeShareLink)
		api.POST("/lists/:id/items", s.addItem)
		api.GET("/lists/:id/collaborators", s.listCollaborators)
		api.POST("/lists/:id/collaborators", s.addCollaborator)
		api.PUT("/lists/:id/collaborators/:user", s.changeRole)
		api.DELETE("/lists/:id/collaborators/:user", s.removeCollaborator)

		api.POST("/share-links/:link/join", s.joinList)
		api.DELETE("/items/:id", s.removeItem)

		api.GET("/notes", s.listNotes)
		api.POST("/notes", s.addNote)
		api.DELETE("/notes/:id", s.deleteNote)
	}
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", UserHeader},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(s.origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	return cfg
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}
