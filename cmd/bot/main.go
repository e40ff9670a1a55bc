package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/membership-bot/internal/api/http"
	"github.com/spec-kit/membership-bot/internal/api/http/handlers"
	"github.com/spec-kit/membership-bot/internal/auth"
	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/persistence"
	"github.com/spec-kit/membership-bot/internal/platform"
	"github.com/spec-kit/membership-bot/internal/registry"
	"github.com/spec-kit/membership-bot/internal/roster"
	"github.com/spec-kit/membership-bot/internal/service"
	"github.com/spec-kit/membership-bot/internal/store"
	"github.com/spec-kit/membership-bot/internal/worker"
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

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Configured() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	docs, err := newDocumentStore(cfg.Store, pg, logger)
	if err != nil {
		logger.Fatal("failed to init document store", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics := observability.NewMetrics()

	ros, err := roster.Load(ctx, docs, cfg.Store.RosterPath, logger)
	if err != nil {
		logger.Fatal("failed to load roster", zap.Error(err))
	}

	reg, err := registry.Load(ctx, docs, cfg.Store.RegistryPath, dispatcher, logger)
	if err != nil {
		logger.Fatal("failed to load registry", zap.Error(err))
	}

	gateway := platform.NewHTTPGateway(cfg.Gateway, logger)

	verifier, err := service.NewVerifierService(cfg.Verify, service.VerifierDependencies{
		Gateway:    gateway,
		Roster:     ros,
		Registry:   reg,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Docs:       docs,
		RosterPath: cfg.Store.RosterPath,
	})
	if err != nil {
		logger.Fatal("failed to init verifier", zap.Error(err))
	}
	verifier.Start(ctx)

	alertService := service.NewAlertService(dispatcher, gateway, metrics, logger, cfg.Verify)
	worker.StartAlertWorker(alertService)

	var deduper platform.Deduper
	if redis.Ping(ctx) == nil {
		deduper = platform.NewRedisDeduper(redis.Client, cfg.Gateway.DedupeTTL)
	} else {
		logger.Warn("redis unavailable, using in-process delivery dedupe")
		deduper = platform.NewMemoryDeduper(cfg.Gateway.DedupeTTL)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AdminTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Webhook:        handlers.NewWebhookHandler(dispatcher, deduper, metrics, logger),
		Admin:          handlers.NewAdminHandler(reg, verifier, metrics),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	verifier.Wait()
	_ = app.Shutdown()
}

func newDocumentStore(cfg config.StoreConfig, pg *persistence.Postgres, logger *zap.Logger) (store.DocumentStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "github":
		return store.NewGitHubStore(cfg.GitHub, logger), nil
	case "postgres":
		if !pg.Configured() {
			return nil, errors.New("store driver postgres requires POSTGRES_DSN")
		}
		return store.NewPostgresStore(pg.PoolHandle()), nil
	case "memory":
		mem := store.NewMemoryStore()
		mem.Seed(cfg.RosterPath, "roll-no,name,email\n")
		mem.Seed(cfg.RegistryPath, "id,roll-no,guilds\n")
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
