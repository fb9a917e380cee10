package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/errify/internal/adapter/httpserver"
	"github.com/pscheid92/errify/internal/adapter/memory"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	"github.com/pscheid92/errify/internal/adapter/postgres"
	"github.com/pscheid92/errify/internal/adapter/redis"
	"github.com/pscheid92/errify/internal/app"
	"github.com/pscheid92/errify/internal/domain"
	"github.com/pscheid92/errify/internal/platform/config"
	"github.com/pscheid92/errify/internal/platform/logging"
	"github.com/pscheid92/errify/internal/platform/version"
	"github.com/pscheid92/errify/internal/realtime"
)

const startupTimeout = 10 * time.Second

type repositories struct {
	posts    domain.PostRepository
	likes    domain.LikeRepository
	comments domain.CommentRepository
	profiles domain.ProfileRepository
	checks   []httpserver.HealthCheck
	close    func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRepositories(cfg *config.Config, m *metrics.DBMetrics) repositories {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using the in-memory store; data is lost on restart")
		store := memory.NewStore(memory.WithProfileProvisioning())
		return repositories{posts: store, likes: store, comments: store, profiles: store, close: func() {}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return repositories{
		posts:    postgres.NewPostRepo(pool),
		likes:    postgres.NewLikeRepo(pool),
		comments: postgres.NewCommentRepo(pool),
		profiles: postgres.NewProfileRepo(pool),
		checks:   []httpserver.HealthCheck{{Name: "postgres", Check: pool.Ping}},
		close:    pool.Close,
	}
}

// setupRateLimitStore returns nil without REDIS_URL, which makes the server
// fall back to a per-instance memory store.
func setupRateLimitStore(cfg *config.Config, clock clockwork.Clock, m *metrics.RedisMetrics) (middleware.RateLimiterStore, []httpserver.HealthCheck, func()) {
	if cfg.RedisURL == "" {
		return nil, nil, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewCircuitBreakerHook(m))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	store := redis.NewRateLimitStore(client, clock, cfg.RateLimitRequests, cfg.RateLimitWindow, m)
	check := httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
	return store, []httpserver.HealthCheck{check}, func() { _ = client.Close() }
}

func runGracefulShutdown(srv *httpserver.Server, hub *realtime.Hub, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Hijacked WebSocket connections are not covered by the HTTP shutdown.
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	registry := metrics.NewRegistry()
	realtimeMetrics := metrics.NewRealtimeMetrics(registry)
	postMetrics := metrics.NewPostMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)
	dbMetrics := metrics.NewDBMetrics(registry)
	redisMetrics := metrics.NewRedisMetrics(registry)

	repos := setupRepositories(cfg, dbMetrics)
	defer repos.close()

	rateLimitStore, redisChecks, closeRedis := setupRateLimitStore(cfg, clock, redisMetrics)
	defer closeRedis()

	hub := realtime.NewHub(clock, realtimeMetrics, realtime.WithMaxConnections(cfg.MaxWebSocketConnections))
	wsHandler := realtime.NewHandler(hub, clock, realtime.NewCheckOrigin(cfg.FrontendURL, cfg.IsDevelopment()))

	postSvc := app.NewPostService(repos.posts, repos.likes, repos.comments, hub, clock, postMetrics)
	profileSvc := app.NewProfileService(repos.profiles, postMetrics)

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Posts:            postSvc,
		Profiles:         profileSvc,
		WebSocketHandler: wsHandler,
		MetricsHandler:   metrics.Handler(registry),
		HTTPMetrics:      httpMetrics,
		RateLimitStore:   rateLimitStore,
		HealthChecks:     append(repos.checks, redisChecks...),
		Clock:            clock,
	})

	done := runGracefulShutdown(srv, hub, cfg.ShutdownTimeout)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
