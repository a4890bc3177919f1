package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/vectorindex"
	"iqbot/models"
	"iqbot/services"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	kind models.SourceKind
	name string
	data []byte
	err  error
}

func (f *fakeIngester) Ingest(_ context.Context, kind models.SourceKind, name string, data []byte) (services.IngestResult, error) {
	f.kind, f.name, f.data = kind, name, data
	if f.err != nil {
		return services.IngestResult{}, f.err
	}
	return services.IngestResult{
		Source: models.Source{Name: name, Kind: kind, ChunkCount: 2},
		Status: models.IngestStatusIngested,
	}, nil
}

func writeUpload(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIngestFileTaskPayload(t *testing.T) {
	task, err := NewIngestFileTask(models.SourceKindArchive, "notes.zip", "/tmp/x.zip")
	require.NoError(t, err)
	assert.Equal(t, TaskIngestFile, task.Type())

	var payload IngestFilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, IngestFilePayload{Kind: models.SourceKindArchive, Name: "notes.zip", Path: "/tmp/x.zip"}, payload)
}

func TestProcessFileIngestsAndRemovesUpload(t *testing.T) {
	ing := &fakeIngester{}
	path := writeUpload(t, "%PDF-1.4 body")
	task, err := NewIngestFileTask(models.SourceKindPDF, "guide.pdf", path)
	require.NoError(t, err)

	require.NoError(t, NewTaskProcessor(ing).ProcessFile(context.Background(), task))
	assert.Equal(t, models.SourceKindPDF, ing.kind)
	assert.Equal(t, "guide.pdf", ing.name)
	assert.Equal(t, "%PDF-1.4 body", string(ing.data))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessFileSkipsRetryForBadContent(t *testing.T) {
	ing := &fakeIngester{err: &services.ExtractionError{Kind: models.SourceKindPDF, Source: "bad.pdf", Err: errors.New("malformed")}}
	path := writeUpload(t, "junk")
	task, err := NewIngestFileTask(models.SourceKindPDF, "bad.pdf", path)
	require.NoError(t, err)

	err = NewTaskProcessor(ing).ProcessFile(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessFileKeepsUploadForRetry(t *testing.T) {
	ing := &fakeIngester{err: fmt.Errorf("embed: %w", &ai.ProviderError{Provider: "GeminiAPI", Op: "embed", Retryable: true, Err: errors.New("503")})}
	path := writeUpload(t, "body")
	task, err := NewIngestFileTask(models.SourceKindPDF, "later.pdf", path)
	require.NoError(t, err)

	err = NewTaskProcessor(ing).ProcessFile(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestProcessFileMissingUpload(t *testing.T) {
	task, err := NewIngestFileTask(models.SourceKindPDF, "gone.pdf", filepath.Join(t.TempDir(), "missing.pdf"))
	require.NoError(t, err)

	err = NewTaskProcessor(&fakeIngester{}).ProcessFile(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessURL(t *testing.T) {
	ing := &fakeIngester{}
	task, err := NewIngestURLTask("https://en.wikipedia.org/wiki/Go")
	require.NoError(t, err)

	require.NoError(t, NewTaskProcessor(ing).ProcessURL(context.Background(), task))
	assert.Equal(t, models.SourceKindWeb, ing.kind)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", ing.name)
	assert.Nil(t, ing.data)
}

func TestProcessRejectsBadPayload(t *testing.T) {
	p := NewTaskProcessor(&fakeIngester{})
	assert.ErrorIs(t, p.ProcessURL(context.Background(), asynq.NewTask(TaskIngestURL, []byte("{"))), asynq.SkipRetry)
	assert.ErrorIs(t, p.ProcessFile(context.Background(), asynq.NewTask(TaskIngestFile, []byte(`{}`))), asynq.SkipRetry)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&services.ExtractionError{Retryable: true, Err: errors.New("503")}))
	assert.False(t, Retryable(&services.ExtractionError{StatusCode: 404, Err: errors.New("404")}))
	assert.False(t, Retryable(fmt.Errorf("index x: %w", &vectorindex.IndexError{Op: "merge", Err: errors.New("dimension mismatch")})))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestStatusFromInfo(t *testing.T) {
	done := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body, err := json.Marshal(TaskResult{Source: models.Source{Name: "a.pdf", Kind: models.SourceKindPDF}, Status: models.IngestStatusIngested})
	require.NoError(t, err)

	st := statusFromInfo(&asynq.TaskInfo{
		ID:          "t1",
		Type:        TaskIngestFile,
		State:       asynq.TaskStateCompleted,
		MaxRetry:    3,
		Result:      body,
		CompletedAt: done,
	})
	assert.Equal(t, "completed", st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, "a.pdf", st.Result.Source.Name)
	require.NotNil(t, st.CompletedAt)
	assert.Equal(t, done, *st.CompletedAt)

	pending := statusFromInfo(&asynq.TaskInfo{ID: "t2", State: asynq.TaskStatePending})
	assert.Nil(t, pending.Result)
	assert.Nil(t, pending.CompletedAt)
}

// Requires Redis; set REDIS_TEST_ADDR to run.
func TestClientEnqueueAndStatus(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	c := NewClient(rdb, t.TempDir())
	id, err := c.EnqueueFile(context.Background(), models.SourceKindPDF, "queued.PDF", []byte("%PDF"))
	require.NoError(t, err)

	st, err := c.Status(id)
	require.NoError(t, err)
	assert.Equal(t, TaskIngestFile, st.Type)
	assert.Equal(t, "pending", st.State)

	_, err = c.Status("does-not-exist")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
