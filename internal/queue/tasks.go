package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/logger"
	"iqbot/internal/vectorindex"
	"iqbot/models"
	"iqbot/services"

	"github.com/hibiken/asynq"
)

const (
	TaskIngestFile = "ingest:file"
	TaskIngestURL  = "ingest:url"

	// QueueIngest is the single queue ingestion tasks run on.
	QueueIngest = "ingest"
)

// IngestFilePayload points at an upload saved under FILE_STORAGE_DIR.
type IngestFilePayload struct {
	Kind models.SourceKind `json:"kind"`
	Name string            `json:"name"`
	Path string            `json:"path"`
}

type IngestURLPayload struct {
	URL string `json:"url"`
}

// TaskResult is written as the task result once ingestion finished.
type TaskResult struct {
	Source models.Source `json:"source"`
	Status string        `json:"status"`
}

func NewIngestFileTask(kind models.SourceKind, name, path string, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestFilePayload{Kind: kind, Name: name, Path: path})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngestFile, payload, append(defaultOptions(), opts...)...), nil
}

func NewIngestURLTask(rawURL string, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestURLPayload{URL: rawURL})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngestURL, payload, append(defaultOptions(), opts...)...), nil
}

func defaultOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
		asynq.Queue(QueueIngest),
		asynq.Retention(24 * time.Hour),
	}
}

// Ingester is the part of the ingestion service the worker needs.
type Ingester interface {
	Ingest(ctx context.Context, kind models.SourceKind, name string, data []byte) (services.IngestResult, error)
}

// TaskProcessor runs queued ingestion tasks against the workspace.
type TaskProcessor struct {
	ingester Ingester
}

func NewTaskProcessor(ingester Ingester) *TaskProcessor {
	return &TaskProcessor{ingester: ingester}
}

// NewServeMux routes both task types to p.
func NewServeMux(p *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIngestFile, p.ProcessFile)
	mux.HandleFunc(TaskIngestURL, p.ProcessURL)
	return mux
}

func (p *TaskProcessor) ProcessFile(ctx context.Context, t *asynq.Task) error {
	var payload IngestFilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.Path == "" || payload.Name == "" {
		return fmt.Errorf("file task without name or path: %w", asynq.SkipRetry)
	}

	data, err := os.ReadFile(payload.Path)
	if err != nil {
		return fmt.Errorf("read upload %s: %v: %w", payload.Path, err, asynq.SkipRetry)
	}

	logger.Info("Processing queued upload", "source", payload.Name, "kind", payload.Kind)
	res, err := p.ingester.Ingest(ctx, payload.Kind, payload.Name, data)
	err = p.finish(t, res, err)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		if rmErr := os.Remove(payload.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("Failed to remove processed upload", "path", payload.Path, "error", rmErr)
		}
	}
	return err
}

func (p *TaskProcessor) ProcessURL(ctx context.Context, t *asynq.Task) error {
	var payload IngestURLPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing queued URL", "url", payload.URL)
	res, err := p.ingester.Ingest(ctx, models.SourceKindWeb, payload.URL, nil)
	return p.finish(t, res, err)
}

// finish stores the result and decides whether a failure is retried.
func (p *TaskProcessor) finish(t *asynq.Task, res services.IngestResult, err error) error {
	if err != nil {
		if !Retryable(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if w := t.ResultWriter(); w != nil {
		body, mErr := json.Marshal(TaskResult{Source: res.Source, Status: res.Status})
		if mErr == nil {
			if _, wErr := w.Write(body); wErr != nil {
				logger.Warn("Failed to store task result", "task_id", w.TaskID(), "error", wErr)
			}
		}
	}
	return nil
}

// Retryable reports whether an ingestion failure may succeed on a later
// attempt.
func Retryable(err error) bool {
	var xerr *services.ExtractionError
	if errors.As(err, &xerr) {
		return xerr.Retryable
	}
	var ierr *vectorindex.IndexError
	if errors.As(err, &ierr) {
		return false
	}
	return ai.IsRetryable(err)
}
