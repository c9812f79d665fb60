package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/verticut/internal/cache"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/database"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/queue"
	"github.com/therealutkarshpriyadarshi/verticut/internal/storage"
	"github.com/therealutkarshpriyadarshi/verticut/internal/tracing"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/verticut/internal/webhook"
)

const metricsInterval = 15 * time.Second

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	} else {
		defer tracerCloser.Close()
	}

	// Handle shutdown gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatalf("Failed to prepare schema: %v", err)
	}
	repo := database.NewRepository(db, logger)

	// The export lock lives in redis, so the worker needs it
	rc, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rc.Close()

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	pipeline := transcoder.NewPipeline(cfg.Export, logger)
	if caps, err := pipeline.Session.Capabilities(ctx); err != nil {
		logger.WithError(err).Warn("failed to probe ffmpeg capabilities")
	} else {
		logger.WithFields(map[string]interface{}{
			"drawtext": caps.Drawtext,
			"version":  caps.Version,
		}).Info("ffmpeg capabilities")
	}

	hooks := webhook.NewService(cfg.Webhook, repo, logger)
	deps := transcoder.ServiceDeps{
		Exporter:  pipeline.Exporter,
		Previewer: pipeline.Exporter,
		Prober:    pipeline.FFmpeg,
		Repo:      repo,
		Store:     stor,
		Cache:     rc,
		Locker:    rc,
		Logger:    logger,
	}
	if hooks.Enabled() {
		deps.Notifier = hooks
	}
	service := transcoder.NewService(deps, transcoder.ServiceConfig{
		WorkDir:    cfg.Export.TempDir,
		JobTimeout: cfg.Export.JobTimeout,
	})
	logger = logger.WithWorkerID(service.WorkerID())

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := ms.Start(); err != nil {
				logger.ErrorWithErr("metrics server failed", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Shutdown(sctx)
		}()
		go reportQueueMetrics(ctx, q, repo, metricsInterval, logger)
	}

	// Start consuming exports
	logger.Info("Worker started, waiting for exports...")
	if err := q.ConsumeExports(ctx, newExportHandler(service, logger)); err != nil {
		logger.Fatalf("Failed to consume exports: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
