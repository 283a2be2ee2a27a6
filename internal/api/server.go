package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/openpress/reviewforms/internal/api/auth"
	"github.com/openpress/reviewforms/internal/config"
	"github.com/openpress/reviewforms/internal/notify"
	"github.com/openpress/reviewforms/internal/registry"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	registry      *registry.Registry
	notifications *notify.Manager
	tokens        *auth.TokenService
}

// NewServer creates a new API server wired to the given database.
func NewServer(cfg *config.Config, db *sql.DB) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(RateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))

	notifications := notify.NewManager(db)
	store := registry.NewStore(db)
	reg := registry.New(store, notifications)

	server := &Server{
		echo:          e,
		port:          cfg.Server.Port,
		registry:      reg,
		notifications: notifications,
		tokens: auth.NewTokenService(
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		),
	}

	server.setupRoutes()
	return server
}

// Echo exposes the underlying router, used by the httptest-based
// end-to-end tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Tokens exposes the token service for seeding test users.
func (s *Server) Tokens() *auth.TokenService {
	return s.tokens
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")
	v1.Use(auth.RequireAuth(s.tokens))

	v1.GET("/notifications", NewNotificationsHandler(s.notifications).List)

	contexts := v1.Group("/contexts/:context_id",
		ResolveContext(s.registry.Store()),
		auth.RequireManager(),
	)
	NewReviewFormHandler(s.registry).RegisterRoutes(contexts)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	log.Info().Int("port", s.port).Msg("review forms API listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
