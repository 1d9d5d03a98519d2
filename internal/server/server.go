package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"marketpulse/pkg/config"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
	"marketpulse/pkg/signal"
	"marketpulse/pkg/storage"
)

// Store is the slice of the record store the handlers need.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	PostsInWindow(ctx context.Context, from, to time.Time) ([]models.RawPost, error)
	SaveSignals(ctx context.Context, signals []models.SignalRecord) error
	GetStats(ctx context.Context) (*storage.Stats, error)
	TopHashtags(ctx context.Context, limit int) ([]storage.HashtagCount, error)
}

// ScrapeRunner starts one collection session.
type ScrapeRunner interface {
	Run(ctx context.Context, session *models.Session) error
}

// Server is the HTTP surface: session control, analysis, and stats. No
// business logic lives here.
type Server struct {
	echo    *echo.Echo
	cfg     config.ServerConfig
	store   Store
	engine  *signal.Engine
	scraper ScrapeRunner
	window  time.Duration
	logger  logger.Logger
}

// New wires the server. scraper may be nil; POST /api/scrape then answers
// 503 instead of starting sessions.
func New(cfg config.ServerConfig, windowHours int, store Store, engine *signal.Engine, scraper ScrapeRunner, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		cfg:     cfg,
		store:   store,
		engine:  engine,
		scraper: scraper,
		window:  time.Duration(windowHours) * time.Hour,
		logger:  log,
	}

	e.GET("/healthz", s.handleHealth)
	api := e.Group("/api")
	api.POST("/scrape", s.handleScrape)
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/stats", s.handleStats)
	api.GET("/sessions/:id", s.handleSession)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithFields("http server listening", map[string]interface{}{
			"addr": s.cfg.ListenAddr,
		})
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(c echo.Context) error {
	if s.scraper == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "scraping is not configured on this instance",
		})
	}

	session := models.NewSession()

	// The session runs detached from the request; progress is observable
	// through GET /api/sessions/:id.
	go func() {
		if err := s.scraper.Run(context.Background(), session); err != nil {
			s.logger.ErrorWithFields("scrape session failed", map[string]interface{}{
				"session_id": session.ID,
				"error":      err.Error(),
			})
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"session_id": session.ID,
		"status":     string(models.SessionPending),
	})
}

type analyzeRequest struct {
	WindowHours int `json:"window_hours"`
}

func (s *Server) handleAnalyze(c echo.Context) error {
	req := analyzeRequest{}
	// Body is optional; an empty body analyzes the default window.
	_ = c.Bind(&req)

	window := s.window
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()
	posts, err := s.store.PostsInWindow(ctx, now.Add(-window), now)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	records, aggregate := s.engine.Analyze(posts)
	if len(records) > 0 {
		if err := s.store.SaveSignals(ctx, records); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"analyzed":  len(records),
		"aggregate": aggregate,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	hashtags, err := s.store.TopHashtags(ctx, 10)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats":        stats,
		"top_hashtags": hashtags,
	})
}

func (s *Server) handleSession(c echo.Context) error {
	session, err := s.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if session == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}
