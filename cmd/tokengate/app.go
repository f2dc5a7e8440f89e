package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pkalinin/tokengate/internal/db"
	"github.com/pkalinin/tokengate/internal/handlers"
	"github.com/pkalinin/tokengate/internal/handlers/middleware"
	"github.com/pkalinin/tokengate/internal/logger"
	"github.com/pkalinin/tokengate/internal/metrics"
	"github.com/pkalinin/tokengate/internal/repository"
	"github.com/pkalinin/tokengate/internal/repository/postgres"
	redisrepo "github.com/pkalinin/tokengate/internal/repository/redis"
	"github.com/pkalinin/tokengate/internal/service/auth"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	userRepo := &postgres.UserRepo{DB: pool}

	var refreshRepo repository.RefreshTokenRepo = &postgres.RefreshTokenRepo{DB: pool}
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		refreshRepo = &redisrepo.RefreshTokenRepo{Client: rdb}
	}

	// Initialize services
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		SecretKey:  c.SecretKey,
		Issuer:     c.TokenIssuer,
		Audience:   c.TokenAudience,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	}, refreshRepo)
	if err != nil {
		return nil, fmt.Errorf("error while creating token issuer. Err: %w", err)
	}

	coordinator, err := auth.NewCoordinator(issuer, userRepo, refreshRepo, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating refresh coordinator. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{}, issuer, coordinator, userRepo, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	// Initialize handlers
	authHandler := handlers.NewAuth(authService)
	authMiddleware := middleware.NewAuth(authService)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	mux := handlers.NewRouter(
		authHandler,
		authMiddleware,
		middleware.LoggerMiddleware(logger),
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			// Consider to user logger dependency
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		// Consider to user logger dependency
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
