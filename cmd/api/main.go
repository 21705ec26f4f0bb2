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

	httptransport "github.com/spec-kit/ticket-channel/internal/api/http"
	"github.com/spec-kit/ticket-channel/internal/api/http/handlers"
	"github.com/spec-kit/ticket-channel/internal/auth"
	"github.com/spec-kit/ticket-channel/internal/config"
	"github.com/spec-kit/ticket-channel/internal/events"
	"github.com/spec-kit/ticket-channel/internal/hub"
	"github.com/spec-kit/ticket-channel/internal/observability"
	"github.com/spec-kit/ticket-channel/internal/persistence"
	"github.com/spec-kit/ticket-channel/internal/ratelimit"
	"github.com/spec-kit/ticket-channel/internal/repository"
	"github.com/spec-kit/ticket-channel/internal/service"
	"github.com/spec-kit/ticket-channel/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Enabled() {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var repo repository.ConversationRepository
	if pg.Enabled() {
		repo = repository.NewConversationRepository(pg.PoolHandle())
	} else {
		logger.Warn("using in-memory conversation store; data is lost on restart")
		repo = repository.NewMemoryConversationRepository()
	}

	var limiter ratelimit.Limiter
	if redis.Enabled() {
		limiter = ratelimit.NewRedisLimiter(redis.Client, cfg.Conversation.RateLimitMessages, cfg.Conversation.RateLimitWindow())
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.Conversation.RateLimitMessages, cfg.Conversation.RateLimitWindow())
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	liveHub := hub.New(logger, metrics, cfg.Hub.QueueSize)

	conversations := service.NewConversationService(service.ConversationDependencies{
		Repo:          repo,
		Limiter:       limiter,
		Dispatcher:    dispatcher,
		Logger:        logger,
		Metrics:       metrics,
		MaxBodyLength: cfg.Conversation.MaxBodyLength,
	})
	notifications := service.NewNotificationService(dispatcher, logger, liveHub)
	hubDone := worker.StartNotificationWorker(ctx, notifications, liveHub)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, liveHub),
		Tickets: handlers.NewTicketsHandler(conversations),
		Channel: handlers.NewChannelHandler(liveHub, conversations, logger, handlers.ChannelConfig{
			PingPeriod:       cfg.Hub.PingPeriod(),
			PongWait:         cfg.Hub.PongWait(),
			WriteWait:        cfg.Hub.WriteWait(),
			MaxFrameBytes:    cfg.Hub.MaxFrameBytes,
			SubscriberBuffer: cfg.Hub.SubscriberBuffer,
			RequestTimeout:   cfg.App.RequestTimeout(),
		}),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	select {
	case <-hubDone:
	case <-time.After(5 * time.Second):
		logger.Warn("hub did not stop in time")
	}
	_ = app.ShutdownWithTimeout(10 * time.Second)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
