package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bohemiyan/orgchart"
	"github.com/bohemiyan/orgchart/identity"
	"github.com/bohemiyan/orgchart/internal/config"
	"github.com/bohemiyan/orgchart/internal/db"
	"github.com/bohemiyan/orgchart/internal/routes"
	"github.com/bohemiyan/orgchart/zapLogger"
	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logFile := zapLogger.Init(zapLogger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if logFile != nil {
		defer logFile.Close()
	}
	log := zapLogger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgDB, err := db.NewPostgresDB(cfg, log)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	defer pgDB.Close()

	redisDB, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to Redis")
	defer redisDB.Close()

	idp := identity.NewClient(cfg.IdentityBaseURL,
		identity.WithTimeout(cfg.IdentityTimeout),
		identity.WithLogger(log))

	svc, err := orgchart.NewService(orgchart.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		Roles:              idp,
		Users:              idp,
		Logger:             log,
		AutoMigrate:        cfg.AutoMigrate,
		EnableAuditLogging: true,
		CachePrefix:        "orgchart:",
		OutboxMaxRetries:   cfg.OutboxMaxRetries,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize orgchart service: %v", err)
	}

	dispatcher := svc.NewDispatcher(idp, svc.NewIdempotencyStore(cfg.DedupeTTL), orgchart.DispatcherConfig{
		BatchSize: cfg.OutboxBatchSize,
	})
	go dispatcher.Run(ctx, cfg.OutboxPollInterval)
	go reconcileLoop(ctx, svc, cfg.ReconcileInterval)

	app := fiber.New()
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))
	routes.Setup(app, svc, log)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			zapLogger.Log.Errorf("Server shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	if err := app.Listen(addr); err != nil {
		zapLogger.Log.Errorf("Server stopped: %v", err)
	}
}

func reconcileLoop(ctx context.Context, svc *orgchart.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report, err := svc.Reconcile(ctx)
		if err != nil {
			zapLogger.Log.Errorf("Reconcile failed: %v", err)
			continue
		}
		if report.Done+report.Failed+report.Orphaned+report.Aborted > 0 {
			zapLogger.Log.Infow("Reconcile pass", "done", report.Done, "failed", report.Failed,
				"orphaned", report.Orphaned, "aborted", report.Aborted)
		}
	}
}
