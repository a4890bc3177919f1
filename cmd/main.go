package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/config"
	"iqbot/internal/database"
	"iqbot/internal/logger"
	"iqbot/internal/queue"
	"iqbot/internal/telemetry"
	"iqbot/internal/watcher"
	"iqbot/internal/workspace"
	"iqbot/middleware"
	"iqbot/routes"
	"iqbot/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTelEndpoint, cfg.OTelSampleRatio)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdownTracer(context.Background())
		}
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
		metrics = nil
	}

	embedder, err := ai.NewEmbedder(ctx, cfg, metrics)
	if err != nil {
		logger.Error("Failed to initialize embedder", "provider", cfg.EmbeddingsProvider, "error", err)
		os.Exit(1)
	}
	defer closeIfCloser(embedder)

	generator, err := ai.NewGenerator(ctx, cfg, metrics)
	if err != nil {
		logger.Error("Failed to initialize generator", "provider", cfg.GenerationProvider, "error", err)
		os.Exit(1)
	}
	defer closeIfCloser(generator)

	ws := workspace.New(cfg.WorkspaceID)
	assistant := services.NewAssistant(cfg, ws, embedder, generator, metrics)

	var snapshots *services.CronService
	if cfg.PersistenceEnabled {
		mongoClient, err := config.ConnectMongoDB(cfg)
		if err != nil {
			logger.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer disconnectMongo(mongoClient)

		store := database.NewSnapshotStore(mongoClient, cfg.DBName, metrics)
		snapshots = services.NewCronService(ws, store, cfg.SnapshotInterval)
		restoreWorkspace(ctx, ws, store, snapshots)

		if err := snapshots.Start(); err != nil {
			logger.Error("Failed to start snapshot scheduler", "error", err)
			os.Exit(1)
		}
	}

	var (
		rdb       *redis.Client
		taskQueue routes.TaskQueue
		worker    *queue.Worker
	)
	if cfg.RedisEnabled {
		rdb, err = config.NewRedisClient(cfg)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		taskQueue = queue.NewClient(rdb, cfg.FileStorageDir)
		worker = queue.NewWorker(rdb, cfg.QueueConcurrency, queue.NewTaskProcessor(assistant.Ingest))
		if err := worker.Start(); err != nil {
			logger.Error("Failed to start ingestion worker", "error", err)
			os.Exit(1)
		}
	}

	if cfg.InboxDir != "" {
		inbox := watcher.NewInbox(cfg.InboxDir, assistant.Ingest)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("Inbox watcher stopped", "dir", cfg.InboxDir, "error", err)
			}
		}()
	}

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.AccessLog())
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	if cfg.OTelEnabled {
		router.Use(middleware.TracingMiddleware(cfg.ServiceName))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize))
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	auth := middleware.NewAuthMiddleware(cfg.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("JWT_SECRET is empty, API authentication is disabled")
	}

	routes.Register(router, routes.Dependencies{
		Config:    cfg,
		Workspace: ws,
		Ingest:    assistant.Ingest,
		Chat:      assistant.Chat,
		Export:    assistant.Export,
		Queue:     taskQueue,
		Auth:      auth,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "workspace", ws.ID,
			"embeddings", embedder.Name(), "generation", generator.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if worker != nil {
		worker.Shutdown()
	}
	if snapshots != nil {
		snapshots.Stop(shutdownCtx)
	}

	logger.Info("Server exited")
}

func restoreWorkspace(ctx context.Context, ws *workspace.Workspace, store *database.SnapshotStore, snapshots *services.CronService) {
	snap, err := store.Load(ctx, ws.ID)
	switch {
	case errors.Is(err, database.ErrSnapshotNotFound):
		logger.Info("No saved workspace, starting empty", "workspace", ws.ID)
		return
	case err != nil:
		logger.Error("Failed to load workspace snapshot, starting empty", "workspace", ws.ID, "error", err)
		return
	}
	if err := ws.Restore(*snap); err != nil {
		logger.Error("Saved workspace rejected, starting empty", "workspace", ws.ID, "error", err)
		return
	}
	snapshots.MarkSaved(ws.Revision())
	logger.Info("Workspace restored", "workspace", ws.ID, "sources", len(ws.Sources()), "chunks", ws.IndexLen())
}

func disconnectMongo(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("MongoDB disconnect failed", "error", err)
	}
}

func closeIfCloser(v interface{}) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Provider close failed", "error", err)
		}
	}
}
