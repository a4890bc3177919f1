package routes

import (
	"context"
	"net/http"
	"time"

	"iqbot/internal/config"
	"iqbot/internal/queue"
	"iqbot/internal/workspace"
	"iqbot/middleware"
	"iqbot/models"
	"iqbot/services"

	"github.com/gin-gonic/gin"
)

// TaskQueue is the background ingestion queue. It is nil when Redis is
// disabled.
type TaskQueue interface {
	EnqueueFile(ctx context.Context, kind models.SourceKind, name string, data []byte) (string, error)
	EnqueueURL(ctx context.Context, rawURL string) (string, error)
	Status(id string) (*queue.TaskStatus, error)
}

// Dependencies are the services the HTTP handlers call.
type Dependencies struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	Ingest    *services.IngestService
	Chat      *services.ChatService
	Export    *services.ExportService
	Queue     TaskQueue
	Auth      *middleware.AuthMiddleware
}

// Register mounts the health endpoints and the /api group on router.
func Register(router *gin.Engine, deps Dependencies) {
	SetupHealthRoutes(router, deps.Workspace)

	api := router.Group("/api")
	if deps.Auth != nil {
		api.Use(deps.Auth.RequireAuth())
	}
	SetupSourceRoutes(api, deps)
	SetupChatRoutes(api, deps)
	SetupTaskRoutes(api, deps)
}

func SetupHealthRoutes(router *gin.Engine, ws *workspace.Workspace) {
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"workspace": ws.ID,
			"sources":   len(ws.Sources()),
			"chunks":    ws.IndexLen(),
			"turns":     len(ws.Turns()),
		})
	}
	router.GET("/health", health)
	router.GET("/ready", health)
}
