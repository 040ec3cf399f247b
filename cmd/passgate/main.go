package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/passgate/passgate/app/repository"
	"github.com/passgate/passgate/internal/pkg/abacatepay"
	"github.com/passgate/passgate/internal/pkg/billing"
	"github.com/passgate/passgate/internal/pkg/cache"
	"github.com/passgate/passgate/internal/pkg/config"
	"github.com/passgate/passgate/internal/pkg/constants"
	"github.com/passgate/passgate/internal/pkg/database"
	"github.com/passgate/passgate/internal/pkg/env"
	"github.com/passgate/passgate/internal/pkg/idempotency"
	"github.com/passgate/passgate/internal/pkg/jobqueue"
	"github.com/passgate/passgate/internal/pkg/metrics/counter"
	"github.com/passgate/passgate/internal/pkg/middleware"
	"github.com/passgate/passgate/internal/pkg/ratelimit"
	"github.com/passgate/passgate/internal/pkg/roblox"
	"github.com/passgate/passgate/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	setLogLevel(cfg.LogLevel)

	app, manager := NewApplication(cfg)
	manager.Start()

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Fatalf("[HTTP] %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("[HTTP] Shutting down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Errorf("[HTTP] Shutdown: %v", err)
	}
	manager.Stop()
	if err := cache.Close(); err != nil {
		log.Errorf("[Cache] Close: %v", err)
	}
}

// NewApplication wires storage, upstream clients and the reconciliation service into a fiber app.
func NewApplication(cfg *config.Config) (*fiber.App, *jobqueue.Manager) {
	if err := database.SetupDatabase(cfg.MySQLDSN(), cfg.IsDev()); err != nil {
		log.Fatalf("[Database] %v", err)
	}
	db := database.GetDB()

	client := cache.SetupCache(cache.Options{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
	})

	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()
	platform := roblox.NewClient(roblox.Config{
		Cookie:  cfg.RobloxCookie,
		CSRFTTL: cfg.CSRFTTL(),
		Retry: roblox.RetryPolicy{
			MaxAttempts: cfg.RobloxMaxAttempts,
			MinWait:     cfg.RobloxMinWait,
			MaxWait:     cfg.RobloxMaxWait,
			Timeout:     cfg.RobloxTimeout,
		},
	})
	if !platform.HasCookie() {
		log.Warn("[Roblox] ROBLOX_SECURITY_COOKIE not set, purchases will fail")
	}
	provider := abacatepay.NewClient(abacatepay.Config{
		BaseURL:     cfg.AbacatePayAPI,
		APIKey:      cfg.AbacatePayKey,
		ChargesPath: cfg.AbacatePayChargesPath,
	})

	shared := sharedState(cfg, client)
	svc := billing.NewService(billing.NewRepository(db), platform, provider, repos.Setting, repos.Buyer, billing.Options{
		MinChargeCents: cfg.MinChargeCents,
		ReplayWindow:   cfg.ReplayWindow,
		StaleAfter:     cfg.StalePurchaseAfter,
		Counter:        shared.counter,
		Claims:         shared.claims,
	})

	var queue *jobqueue.Queue
	if cfg.PurchaseMode == config.PurchaseModeQueue {
		queue = jobqueue.NewQueue(client, cfg.PurchaseWorkers)
		jobqueue.RegisterPurchaseHandler(queue, svc)
		svc.SetDispatcher(jobqueue.NewPurchaseDispatcher(queue))
		log.Infof("[Billing] Purchases run on the job queue with %d workers", cfg.PurchaseWorkers)
	}
	manager := jobqueue.NewManager(queue, svc, cfg.StalePurchaseInterval)

	app := fiber.New(fiber.Config{
		AppName:      "passgate",
		BodyLimit:    1 << 20,
		ErrorHandler: middleware.ErrorHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-Ts, X-Client-Hmac",
	}))

	// SWAGGER / OPENAPI
	if _, err := os.Stat("./public/docs/v1/openapi.yml"); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: "./public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warnf("[HTTP] OpenAPI document not found, /docs/api disabled: %v", err)
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Config:          cfg,
		Service:         svc,
		Gateway:         billing.NewGateway(svc, shared.claims, cfg.WebhookSecret, cfg.WebhookTolerance),
		Repos:           repos,
		Counter:         shared.counter,
		Queue:           queue,
		PurchaseLimiter: shared.purchaseLimiter,
		ResolveLimiter:  shared.resolveLimiter,
		LimiterStorage:  shared.limiterStorage,
	})

	return app, manager
}

type sharedStores struct {
	counter         counter.Recorder
	claims          idempotency.Claimer
	purchaseLimiter ratelimit.Limiter
	resolveLimiter  ratelimit.Limiter
	limiterStorage  fiber.Storage
}

// sharedState backs counters, event claims and rate limits with Redis when a cache is configured,
// so several instances see one window. Without a cache everything stays in process memory.
func sharedState(cfg *config.Config, client *redis.Client) sharedStores {
	purchaseRule := ratelimit.Rule{Limit: cfg.PurchaseRateLimit, Window: cfg.RateLimitWindow}
	resolveRule := ratelimit.Rule{Limit: cfg.ResolveRateLimit, Window: cfg.RateLimitWindow}

	if client == nil {
		return sharedStores{
			counter:         counter.NewMemoryCounter(),
			claims:          idempotency.NewMemoryClaimer(),
			purchaseLimiter: ratelimit.NewMemoryLimiter(purchaseRule),
			resolveLimiter:  ratelimit.NewMemoryLimiter(resolveRule),
		}
	}

	port, err := strconv.Atoi(cfg.CachePort)
	if err != nil {
		port = 6379
	}
	return sharedStores{
		counter:         counter.NewRedisCounter(client),
		claims:          idempotency.NewRedisClaimer(client),
		purchaseLimiter: ratelimit.NewRedisLimiter(client, purchaseRule),
		resolveLimiter:  ratelimit.NewRedisLimiter(client, resolveRule),
		// Separate database for the fiber limiter (cache uses DB 0)
		limiterStorage: redisstorage.New(redisstorage.Config{
			Host:     cfg.CacheHost,
			Port:     port,
			Password: cfg.CachePassword,
			Database: 1,
			Reset:    false,
		}),
	}
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(log.LevelTrace)
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "warn":
		log.SetLevel(log.LevelWarn)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		log.SetLevel(log.LevelInfo)
	}
}
