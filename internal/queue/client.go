package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"iqbot/internal/logger"
	"iqbot/models"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ErrTaskNotFound is returned by Status for unknown or expired task ids.
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus is what GET /api/tasks/:id reports.
type TaskStatus struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	State       string      `json:"state"`
	Retried     int         `json:"retried"`
	MaxRetry    int         `json:"max_retry"`
	LastError   string      `json:"last_error,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Client enqueues ingestion tasks and reports their progress. Uploads are
// written to disk first so the task payload stays small.
type Client struct {
	client     *asynq.Client
	inspector  *asynq.Inspector
	storageDir string
}

// NewClient shares rdb with asynq; closing rdb closes the client too.
func NewClient(rdb redis.UniversalClient, storageDir string) *Client {
	return &Client{
		client:     asynq.NewClientFromRedisClient(rdb),
		inspector:  asynq.NewInspectorFromRedisClient(rdb),
		storageDir: filepath.Join(storageDir, "uploads"),
	}
}

// EnqueueFile stores data and queues its ingestion. It returns the task id.
func (c *Client) EnqueueFile(ctx context.Context, kind models.SourceKind, name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.storageDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(c.storageDir, id+strings.ToLower(filepath.Ext(name)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	task, err := NewIngestFileTask(kind, name, path, asynq.TaskID(id))
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	logger.Info("Upload queued", "task_id", info.ID, "source", name, "kind", kind, "bytes", len(data))
	return info.ID, nil
}

// EnqueueURL queues a web page for ingestion.
func (c *Client) EnqueueURL(ctx context.Context, rawURL string) (string, error) {
	task, err := NewIngestURLTask(rawURL, asynq.TaskID(uuid.NewString()))
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", rawURL, err)
	}

	logger.Info("URL queued", "task_id", info.ID, "url", rawURL)
	return info.ID, nil
}

// Status looks a task up on the ingest queue.
func (c *Client) Status(id string) (*TaskStatus, error) {
	info, err := c.inspector.GetTaskInfo(QueueIngest, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return statusFromInfo(info), nil
}

func statusFromInfo(info *asynq.TaskInfo) *TaskStatus {
	st := &TaskStatus{
		ID:        info.ID,
		Type:      info.Type,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if len(info.Result) > 0 {
		var res TaskResult
		if err := json.Unmarshal(info.Result, &res); err == nil {
			st.Result = &res
		}
	}
	if !info.CompletedAt.IsZero() {
		t := info.CompletedAt.UTC()
		st.CompletedAt = &t
	}
	return st
}
