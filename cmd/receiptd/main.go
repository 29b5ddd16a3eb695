// receiptd is the receipt ingestion pipeline's process entry point: it wires
// together the Chat-Session Manager, Capture Layer, Work Queue, worker pool,
// parsing cascade, operator resolver, and Transaction Store behind a fiber
// HTTP admin surface, per SPEC_FULL.md's startup sequence.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"receipt-pipeline/server/internal/capture"
	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/handlers"
	"receipt-pipeline/server/internal/middleware"
	"receipt-pipeline/server/internal/parsing"
	"receipt-pipeline/server/internal/queue"
	"receipt-pipeline/server/internal/resolver"
	"receipt-pipeline/server/internal/services"
	"receipt-pipeline/server/internal/workers"
)

func main() {
	// PHASE 1: configuration and logging.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Server.Environment == "development" {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))

	zapLogger, err := newZapLogger(cfg.Server.Environment)
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	defer zapLogger.Sync()

	tz, err := time.LoadLocation(cfg.Pipeline.Timezone)
	if err != nil {
		slog.Warn("unknown pipeline timezone, falling back to UTC", "timezone", cfg.Pipeline.Timezone, "error", err)
		tz = time.UTC
	}

	// PHASE 2: worker pools.
	poolManager := workers.NewPoolManager(workers.PoolConfig{
		ReceiptWorkers: cfg.Pipeline.Workers,
		Workers:        cfg.Pipeline.Workers * 2,
	})

	// PHASE 3: cache, with Redis-down fallback to memory.
	cache := newCache(cfg)

	// PHASE 4: database.
	slog.Info("connecting to database")
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal("database connection required:", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
	}

	// PHASE 5: chat-session manager.
	client := chatsession.NewClient(cfg.Telegram, zapLogger)
	adminAuth := chatsession.NewAdminAuth(db, cfg.Server.AdminPasswordHash)

	// PHASE 6: model client, parsing cascade, operator resolver.
	modelClient := services.NewModelClient(cfg.Model)

	textExtractor := parsing.StructuredTextExtractor{}
	pageRenderer := parsing.NullPageRenderer{}
	cascade := parsing.NewCascade(modelClient, textExtractor, pageRenderer, tz,
		cfg.Pipeline.RegexConfidenceThreshold, cfg.Pipeline.PDFTextMinChars, db)

	operatorResolver := resolver.New(db, modelClient, cache, cfg.Pipeline.ResolverConfidenceThreshold)
	if err := operatorResolver.Refresh(); err != nil {
		slog.Warn("initial operator dictionary refresh failed", "error", err)
	}

	// PHASE 7: capture layer, work queue, dispatcher.
	workQueue := queue.New(cfg.Pipeline.QueueCapacity, db)

	processor := &capture.Processor{
		DB:          db,
		Client:      client,
		Cascade:     cascade,
		Resolver:    operatorResolver,
		DownloadDir: "./data/downloads",
	}

	captureLoop := &capture.Loop{
		DB:              db,
		Client:          client,
		Queue:           workQueue,
		Log:             zapLogger,
		CatchupInterval: time.Duration(cfg.Pipeline.CatchupIntervalSec) * time.Second,
	}

	dispatcher := &capture.Dispatcher{
		Queue:     workQueue,
		Processor: processor,
		Pool:      poolManager,
		Log:       zapLogger,
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go func() {
		if err := client.Run(runCtx); err != nil {
			slog.Error("chat session run loop exited", "error", err)
		}
	}()

	captureLoop.Start(runCtx)
	go dispatcher.Run(runCtx)

	// PHASE 8: handlers.
	authHandler := handlers.NewAuthHandler(adminAuth, client)
	receiptHandler := handlers.NewReceiptHandler(db, client, processor)
	monitorHandler := handlers.NewMonitorHandler(db, client, workQueue, poolManager)
	healthHandler := handlers.NewHealthHandler(cfg, db, client, poolManager)

	// PHASE 9: fiber app + middleware.
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: middleware.ErrorHandler(),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// PHASE 10: routes.
	app.Get("/api/health", healthHandler.HandleHealth)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/login", authHandler.HandleLogin)
	authGroup.Post("/logout", handlers.RequireAdmin(adminAuth), authHandler.HandleLogout)
	authGroup.Post("/phone", handlers.RequireAdmin(adminAuth), authHandler.HandlePhone)
	authGroup.Post("/code", handlers.RequireAdmin(adminAuth), authHandler.HandleCode)
	authGroup.Post("/password", handlers.RequireAdmin(adminAuth), authHandler.HandlePassword)
	authGroup.Post("/resend", handlers.RequireAdmin(adminAuth), authHandler.HandleResend)

	admin := api.Group("", handlers.RequireAdmin(adminAuth))
	admin.Post("/process-receipt", receiptHandler.HandleProcessReceipt)
	admin.Post("/process-receipt-batch", receiptHandler.HandleProcessReceiptBatch)
	admin.Get("/processed-status", receiptHandler.HandleProcessedStatus)
	admin.Get("/monitors", monitorHandler.HandleListMonitors)
	admin.Put("/monitors/:chat_id", monitorHandler.HandleUpdateMonitor)
	admin.Get("/monitor/status", monitorHandler.HandleMonitorStatus)

	// PHASE 11: graceful shutdown.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		slog.Info("shutting down")
		stopRun()
		poolManager.Shutdown()
		if err := cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
		}
		if err := db.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
		if err := app.Shutdown(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting receipt pipeline", "address", addr, "environment", cfg.Server.Environment)
	if err := app.Listen(addr); err != nil {
		slog.Error("server failed to start", "error", err)
		poolManager.Shutdown()
		log.Fatal(err)
	}
}

func newZapLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newCache(cfg *config.Config) services.CacheService {
	redisAddr := cfg.Redis.URL
	const prefix = "redis://"
	if len(redisAddr) > len(prefix) && redisAddr[:len(prefix)] == prefix {
		redisAddr = redisAddr[len(prefix):]
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis connection failed, falling back to memory cache", "error", err)
		redisClient.Close()
		return services.NewMemoryCache()
	}

	slog.Info("redis connection established", "addr", redisAddr)
	return services.NewRedisCache(redisClient)
}
