package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grievance_server/config"
	"grievance_server/core/port/out"
	"grievance_server/infra/middleware"
	"grievance_server/internal/bootstrap"
	"grievance_server/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "grievance",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all, process, reprocess, token")
	source := flag.String("source", "dir", "Mail source for -mode=process: dir or gmail")
	subject := flag.String("subject", "admin", "Token subject for -mode=token")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime for -mode=token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{Level: logger.ParseLevel(cfg.LogLevel), Service: "grievance-" + *mode})

	switch *mode {
	case "token":
		runToken(cfg, *subject, *ttl)
		return
	case "api", "worker", "all", "process", "reprocess":
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(ctx, cfg, deps)
	case "worker":
		runWorker(ctx, cfg, deps)
	case "all":
		if deps.Redis != nil {
			go runWorker(ctx, cfg, deps)
		} else {
			logger.Warn("Redis not available, running API only")
		}
		runAPI(ctx, cfg, deps)
	case "process":
		runProcess(ctx, deps, *source)
	case "reprocess":
		runReprocess(ctx, deps)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(cfg, deps)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, deps *bootstrap.Dependencies) {
	worker, err := bootstrap.NewWorker(cfg, deps)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			worker.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
		close(stopped)
	}()

	logger.Info("Starting worker...")
	if err := worker.Start(); err != nil {
		logger.Fatal("Worker failed: %v", err)
	}
	<-stopped
}

func runProcess(ctx context.Context, deps *bootstrap.Dependencies, name string) {
	var src out.MailSource
	for _, s := range deps.Sources {
		if s.Name() == name {
			src = s
		}
	}
	if src == nil {
		logger.Fatal("Unknown source: %s", name)
	}

	raws, err := src.Fetch(ctx)
	if err != nil {
		logger.Fatal("Fetch from %s failed: %v", name, err)
	}
	report, err := deps.Service.ProcessBatch(ctx, raws, name)
	if err != nil {
		logger.Fatal("Batch failed: %v", err)
	}
	logger.Info("Batch done: stored=%d duplicates=%d failed=%d",
		report.Stored, report.Duplicates, report.Failed)
}

func runReprocess(ctx context.Context, deps *bootstrap.Dependencies) {
	report, err := deps.Service.Reprocess(ctx)
	if err != nil {
		logger.Fatal("Reprocess failed: %v", err)
	}
	logger.Info("Reprocess done: total=%d changed=%d", report.Total, report.Changed)
}

func runToken(cfg *config.Config, subject string, ttl time.Duration) {
	if cfg.AdminJWTSecret == "" {
		logger.Fatal("ADMIN_JWT_SECRET is not set")
	}
	token, err := middleware.IssueAdminToken(cfg.AdminJWTSecret, subject, ttl)
	if err != nil {
		logger.Fatal("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
