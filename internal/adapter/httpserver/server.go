package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/app"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/config"
)

type postService interface {
	ListPosts(ctx context.Context, filter domain.PostFilter) (domain.PostPage, error)
	GetPost(ctx context.Context, postID uuid.UUID) (*domain.Post, error)
	CreatePost(ctx context.Context, author domain.Profile, in app.CreatePostInput) (*domain.Post, error)
	UpdatePost(ctx context.Context, userID, postID uuid.UUID, in app.UpdatePostInput) (*domain.Post, error)
	DeletePost(ctx context.Context, userID, postID uuid.UUID) error
	ToggleLike(ctx context.Context, userID, postID uuid.UUID) (app.LikeResult, error)
	AddComment(ctx context.Context, author domain.Profile, postID uuid.UUID, in app.AddCommentInput) (*domain.Comment, error)
	ListComments(ctx context.Context, postID uuid.UUID) ([]domain.Comment, error)
}

type profileService interface {
	Authenticate(ctx context.Context, userID uuid.UUID, emailVerified bool) (*domain.Profile, error)
}

// Dependencies are the collaborators of the HTTP server. Posts and Profiles
// are required, everything else is optional.
type Dependencies struct {
	Posts            postService
	Profiles         profileService
	WebSocketHandler http.Handler
	MetricsHandler   http.Handler
	HTTPMetrics      *metrics.HTTPMetrics
	// RateLimitStore backs the per-IP API limit. Nil selects an in-memory store.
	RateLimitStore middleware.RateLimiterStore
	HealthChecks   []HealthCheck
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	posts    postService
	profiles profileService
	tokens   *tokenVerifier

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics
	rateLimitStore   middleware.RateLimiterStore

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store := deps.RateLimitStore
	if store == nil {
		store = newMemoryRateLimitStore(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	srv := &Server{
		echo:             e,
		config:           cfg,
		clock:            clock,
		posts:            deps.Posts,
		profiles:         deps.Profiles,
		tokens:           newTokenVerifier(cfg.AuthJWTSecret, clock),
		websocketHandler: deps.WebSocketHandler,
		metricsHandler:   deps.MetricsHandler,
		httpMetrics:      deps.HTTPMetrics,
		rateLimitStore:   store,
		healthChecks:     deps.HealthChecks,
		startTime:        clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
