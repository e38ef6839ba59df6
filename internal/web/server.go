// Package web serves stories over HTTP. Each session plays a story in its
// own goroutine and exchanges turns with the browser through HTML forms.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vampirenirmal/quire/internal/cache"
	"github.com/vampirenirmal/quire/internal/config"
	"github.com/vampirenirmal/quire/internal/session"
	"github.com/vampirenirmal/quire/internal/storage"
	"github.com/vampirenirmal/quire/pkg/quire/document"
	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/story"
)

const (
	maxSessions    = 1000
	maxBodies      = 100
	maxTemplates   = 512
	bodyTTL        = 10 * time.Minute
	templateTTL    = 30 * time.Minute
	reaperInterval = time.Minute
)

// Server hosts the story library and live play sessions.
type Server struct {
	cfg         config.ServerConfig
	library     *storage.Library
	checkpoints *session.CheckpointManager
	engine      *render.Engine
	formatter   render.Formatter
	bodies      *cache.MemoryCache[string, *document.Body]
	sessions    *cache.MemoryCache[string, *playSession]
	limiter     *rate.Limiter
	logger      *slog.Logger
	router      *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithCheckpoints saves a checkpoint after every turn and allows sessions to
// be resumed.
func WithCheckpoints(cm *session.CheckpointManager) Option {
	return func(s *Server) {
		s.checkpoints = cm
	}
}

// WithFormatter overrides the HTML formatter, e.g. to map tags.
func WithFormatter(f render.Formatter) Option {
	return func(s *Server) {
		s.formatter = f
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg config.ServerConfig, library *storage.Library, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		library:   library,
		engine:    render.NewEngine(render.WithTemplateCache(templateTTL, maxTemplates)),
		formatter: render.HTML(),
		bodies:    cache.NewMemoryCache[string, *document.Body](bodyTTL, maxBodies),
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.RequestsPerMinute)/60.0), cfg.RateLimit.BurstSize),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sessions = cache.NewMemoryCache[string, *playSession](cfg.SessionTTL, maxSessions,
		cache.WithEvictHook(func(id string, ps *playSession) {
			s.logger.Info("Session expired", "session", id, "story", ps.story)
			ps.cancel()
		}))
	s.router = s.routes()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Len()})
	})
	r.GET("/", s.handleIndex)

	api := r.Group("/api")
	api.GET("/stories", s.handleListStories)
	api.GET("/sessions/:id", s.handleState)
	api.GET("/checkpoints", s.handleListCheckpoints)

	limited := r.Group("/", s.rateLimit())
	limited.POST("/stories/:name/sessions", s.handleStart)
	limited.POST("/sessions/:id", s.handleReply)
	limited.DELETE("/sessions/:id", s.handleStop)
	r.GET("/sessions/:id", s.handleShow)

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully and stops
// every live session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Serving stories", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.sessions.Run(gctx, reaperInterval)
		return nil
	})
	g.Go(func() error {
		s.bodies.Run(gctx, reaperInterval)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.engine.Prune()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		if err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close stops every live session.
func (s *Server) Close() {
	s.cancel()
}

// loadStory builds a fresh story for a session. Parsed documents are cached
// by name; hooks are bound per session so sessions never share hook state.
func (s *Server) loadStory(ctx context.Context, name string, logger *slog.Logger) (*story.Story, error) {
	body, ok := s.bodies.Get(name)
	if !ok {
		text, err := s.library.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		body, err = document.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing story %q: %w", name, err)
		}
		s.bodies.Set(name, body)
	}

	return story.New(body,
		story.WithEngine(s.engine),
		story.WithFormatter(s.formatter),
		story.WithLogger(logger))
}

// start launches a playback and waits for its first turn.
func (s *Server) start(ctx context.Context, name string, resume *story.Checkpoint) (*playSession, error) {
	id := uuid.NewString()
	if resume != nil {
		id = resume.SessionID
	}
	logger := s.logger.With("session", id, "story", name)

	st, err := s.loadStory(ctx, name, logger)
	if err != nil {
		return nil, err
	}

	opts := []story.PlayOption{story.WithSessionID(id)}
	if s.checkpoints != nil {
		opts = append(opts, story.WithCheckpointer(s.checkpoints.For(name)))
	}
	if resume != nil {
		opts = append(opts, story.ResumeFrom(*resume))
	}

	ps := startSession(s.ctx, id, name, st, opts...)
	if old, ok := s.sessions.Get(id); ok {
		old.cancel()
	}
	s.sessions.Set(id, ps)

	if err := ps.wait(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}

func (s *Server) session(id string) (*playSession, bool) {
	return s.sessions.Touch(id)
}
