package routes

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"iqbot/internal/logger"
	"iqbot/models"
	"iqbot/utils"

	"github.com/gin-gonic/gin"
)

// batchItem reports one file of a multi-file upload. A failed file does not
// stop the others.
type batchItem struct {
	Name   string               `json:"name"`
	Source *models.Source       `json:"source,omitempty"`
	Status string               `json:"status"`
	TaskID string               `json:"task_id,omitempty"`
	Error  *utils.ErrorResponse `json:"error,omitempty"`
}

func SetupSourceRoutes(api *gin.RouterGroup, deps Dependencies) {
	sources := api.Group("/sources")

	sources.GET("", handleListSources(deps))
	sources.DELETE("", handleClearAll(deps))
	sources.POST("/pdf", handleUpload(deps, models.SourceKindPDF, ".pdf"))
	sources.POST("/archive", handleUpload(deps, models.SourceKindArchive, ".zip"))
	sources.POST("/web", handleWebSource(deps))
}

func handleListSources(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.SourceListResponse{
			Sources:     deps.Workspace.Sources(),
			TotalChunks: deps.Workspace.TotalChunks(),
		})
	}
}

func handleClearAll(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Chat.ClearAll()
		c.JSON(http.StatusOK, gin.H{"message": "workspace cleared"})
	}
}

func handleUpload(deps Dependencies, kind models.SourceKind, ext string) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			utils.RespondWithBadRequest(c, "multipart form with a file field is required", gin.H{"error": err.Error()})
			return
		}
		files := form.File["file"]
		if len(files) == 0 {
			utils.RespondWithBadRequest(c, "file is required", nil)
			return
		}
		async := wantsAsync(c)
		if async && deps.Queue == nil {
			respondQueueDisabled(c)
			return
		}

		if len(files) == 1 {
			item, status := ingestFile(c, deps, kind, ext, files[0], async)
			if item.Error != nil {
				utils.RespondWithError(c, status, item.Error.ErrorCode, item.Error.Message, item.Error.Details)
				return
			}
			c.JSON(status, models.IngestResponse{Source: derefSource(item.Source), Status: item.Status, TaskID: item.TaskID})
			return
		}

		results := make([]batchItem, 0, len(files))
		for _, fh := range files {
			item, _ := ingestFile(c, deps, kind, ext, fh, async)
			results = append(results, item)
		}
		status := http.StatusOK
		if async {
			status = http.StatusAccepted
		}
		c.JSON(status, gin.H{"results": results})
	}
}

func ingestFile(c *gin.Context, deps Dependencies, kind models.SourceKind, ext string, fh *multipart.FileHeader, async bool) (batchItem, int) {
	name := filepath.Base(fh.Filename)
	item := batchItem{Name: name}
	fail := func(status int, code, msg string, details interface{}) (batchItem, int) {
		item.Status = "failed"
		item.Error = &utils.ErrorResponse{ErrorCode: code, Message: msg, Details: details}
		return item, status
	}

	if !strings.EqualFold(filepath.Ext(name), ext) {
		return fail(http.StatusBadRequest, "invalid_file_type", fmt.Sprintf("only %s files are accepted", ext), gin.H{"name": name})
	}
	if deps.Config != nil && deps.Config.MaxFileSize > 0 && fh.Size > deps.Config.MaxFileSize {
		return fail(http.StatusRequestEntityTooLarge, "file_too_large", "File size exceeds maximum limit",
			gin.H{"name": name, "max_size": deps.Config.MaxFileSize})
	}

	data, err := readUpload(fh)
	if err != nil {
		return fail(http.StatusBadRequest, "invalid_file", "Cannot read uploaded file", gin.H{"name": name, "error": err.Error()})
	}

	if async {
		taskID, err := deps.Queue.EnqueueFile(c.Request.Context(), kind, name, data)
		if err != nil {
			logger.Error("Failed to queue upload", "source", name, "error", err)
			return fail(http.StatusServiceUnavailable, "queue_error", "Failed to queue upload", gin.H{"name": name})
		}
		item.Status = models.IngestStatusQueued
		item.TaskID = taskID
		return item, http.StatusAccepted
	}

	res, err := deps.Ingest.Ingest(c.Request.Context(), kind, name, data)
	if err != nil {
		_ = c.Error(err)
		status, body := classify(err)
		item.Status = "failed"
		item.Error = &body
		return item, status
	}
	item.Source = &res.Source
	item.Status = res.Status
	return item, http.StatusOK
}

func handleWebSource(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.WebSourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		if wantsAsync(c) {
			if deps.Queue == nil {
				respondQueueDisabled(c)
				return
			}
			taskID, err := deps.Queue.EnqueueURL(c.Request.Context(), req.URL)
			if err != nil {
				logger.Error("Failed to queue URL", "url", req.URL, "error", err)
				utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_error", "Failed to queue URL", nil)
				return
			}
			c.JSON(http.StatusAccepted, models.IngestResponse{Status: models.IngestStatusQueued, TaskID: taskID})
			return
		}

		res, err := deps.Ingest.IngestURL(c.Request.Context(), req.URL)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.IngestResponse{Source: res.Source, Status: res.Status})
	}
}

func wantsAsync(c *gin.Context) bool {
	v := strings.ToLower(c.Query("async"))
	return v == "true" || v == "1"
}

func respondQueueDisabled(c *gin.Context) {
	utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_disabled",
		"Background ingestion requires REDIS_ENABLED=true", nil)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func derefSource(s *models.Source) models.Source {
	if s == nil {
		return models.Source{}
	}
	return *s
}
