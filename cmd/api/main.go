package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/user-management/internal/api/http"
	"github.com/spec-kit/user-management/internal/api/http/handlers"
	"github.com/spec-kit/user-management/internal/auth"
	"github.com/spec-kit/user-management/internal/config"
	"github.com/spec-kit/user-management/internal/events"
	"github.com/spec-kit/user-management/internal/observability"
	"github.com/spec-kit/user-management/internal/persistence"
	"github.com/spec-kit/user-management/internal/ratelimit"
	"github.com/spec-kit/user-management/internal/repository"
	"github.com/spec-kit/user-management/internal/service"
	"github.com/spec-kit/user-management/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		logger.Warn("using development JWT secret; set AUTH_JWT_SECRET")
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo  repository.UserRepository
		resetRepo repository.PasswordResetRepository
	)
	if pg.Enabled() {
		pool := pg.PoolHandle()
		userRepo = repository.NewUserRepository(pool)
		resetRepo = repository.NewPasswordResetRepository(pool)
	} else {
		logger.Warn("POSTGRES_DSN not provided; using in-memory user store")
		userRepo = repository.NewMemoryUserRepository()
		resetRepo = repository.NewMemoryPasswordResetRepository()
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.TokenConfig())
	if err != nil {
		logger.Fatal("failed to init token manager", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService, logger)

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	userService := service.NewUserService(service.UserDependencies{
		UserRepo:   userRepo,
		Hasher:     hasher,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	authDeps := service.AuthDependencies{
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Accounts:          userService,
		Tokens:            tokens,
		Hasher:            hasher,
		Dispatcher:        dispatcher,
		Metrics:           metrics,
		Logger:            logger,
	}
	if redis.Enabled() {
		if limiter := ratelimit.NewLoginLimiter(redis.Client, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginLockout()); limiter != nil {
			authDeps.Limiter = limiter
		}
	}
	authService := service.NewAuthService(cfg.Auth, authDeps)
	authMiddleware := auth.NewAuthMiddleware(authService.Tokens(), userRepo, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger, metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.CORS)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Dependency{
			"postgres": pg,
			"redis":    redis,
		}),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Users:          handlers.NewUsersHandler(userService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
