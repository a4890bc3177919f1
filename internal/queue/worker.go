package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"iqbot/internal/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Worker runs queued ingestion inside the API process, so tasks update the
// same in-memory workspace the API serves.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(rdb redis.UniversalClient, concurrency int, processor *TaskProcessor) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueIngest: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("Ingestion task failed",
				"type", task.Type(),
				"retried", retried,
				"max_retry", maxRetry,
				"error", err,
			)
		}),
		Logger:          slogAdapter{logger.With("component", "asynq")},
		ShutdownTimeout: 30 * time.Second,
	})
	return &Worker{server: server, mux: NewServeMux(processor)}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	logger.Info("Ingestion worker started", "queue", QueueIngest)
	return nil
}

// Shutdown waits for running tasks, up to the shutdown timeout.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	logger.Info("Ingestion worker stopped")
}

// slogAdapter routes asynq's own log lines through the service logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a slogAdapter) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
