package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/verticut/internal/cache"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/database"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/middleware"
	"github.com/therealutkarshpriyadarshi/verticut/internal/queue"
	"github.com/therealutkarshpriyadarshi/verticut/internal/storage"
	"github.com/therealutkarshpriyadarshi/verticut/internal/tracing"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	// Redis only serves live progress and stats here, so the API runs without it
	var progress ProgressReader
	var stats StatsReader
	checks := map[string]HealthCheck{"database": db.Health}
	rc, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, progress is read from the database")
	} else {
		defer rc.Close()
		progress = rc
		stats = rc
		checks["redis"] = rc.Ping
	}

	// Preview frames render in-process on the API's own engine
	pipeline := transcoder.NewPipeline(cfg.Export, logger)
	previews := transcoder.NewService(transcoder.ServiceDeps{
		Previewer: pipeline.Exporter,
		Prober:    pipeline.FFmpeg,
		Store:     stor,
		Logger:    logger,
	}, transcoder.ServiceConfig{WorkDir: cfg.Export.TempDir})

	api := &API{
		repo:           repo,
		storage:        stor,
		progress:       progress,
		stats:          stats,
		queue:          q,
		previewer:      previews,
		healthChecks:   checks,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		logger:         logger,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Cleanup(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, RouterOptions{
		Logger:      logger,
		RateLimiter: limiter,
		JWTSecret:   cfg.Server.JWTSecret,
	})
	if cfg.Server.JWTSecret == "" {
		logger.Warn("JWT secret not set, API is unauthenticated")
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := ms.Start(); err != nil {
				logger.ErrorWithErr("metrics server failed", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			ms.Shutdown(sctx)
		}()
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server exited")
}
