package routes

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/config"
	"iqbot/internal/crawler"
	"iqbot/internal/queue"
	"iqbot/internal/workspace"
	"iqbot/middleware"
	"iqbot/models"
	"iqbot/services"
	"iqbot/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct{ reply string }

func (g stubGenerator) Name() string { return "stub" }

func (g stubGenerator) Generate(context.Context, string) (string, error) { return g.reply, nil }

type fakeQueue struct {
	files []string
	urls  []string
	tasks map[string]*queue.TaskStatus
}

func (q *fakeQueue) EnqueueFile(_ context.Context, kind models.SourceKind, name string, _ []byte) (string, error) {
	q.files = append(q.files, string(kind)+":"+name)
	return fmt.Sprintf("task-%d", len(q.files)+len(q.urls)), nil
}

func (q *fakeQueue) EnqueueURL(_ context.Context, rawURL string) (string, error) {
	q.urls = append(q.urls, rawURL)
	return fmt.Sprintf("task-%d", len(q.files)+len(q.urls)), nil
}

func (q *fakeQueue) Status(id string) (*queue.TaskStatus, error) {
	if st, ok := q.tasks[id]; ok {
		return st, nil
	}
	return nil, queue.ErrTaskNotFound
}

func setupRouter(t *testing.T, mutate func(*Dependencies)) (*gin.Engine, Dependencies) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ws := workspace.New("routes-test")
	embedder := ai.NewLocalEmbedder(64)
	fetcher := crawler.NewFetcher(crawler.FetchConfig{UserAgent: "IQBot/1.0 (test)", Timeout: 2 * time.Second})
	ingest := services.NewIngestService(ws, services.NewSmartChunkingService(), embedder, fetcher, nil)
	retriever := services.NewRetriever(ws, embedder, services.DefaultK, nil)
	chat := services.NewChatService(ws, retriever, services.NewSynthesizer(stubGenerator{reply: "Photosynthesis happens in chloroplasts."}, 200, 0), nil)

	deps := Dependencies{
		Config:    &config.Config{MaxFileSize: 1 << 20},
		Workspace: ws,
		Ingest:    ingest,
		Chat:      chat,
		Export:    services.NewExportService(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	router := gin.New()
	Register(router, deps)
	return router, deps
}

func notesZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type upload struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, target string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const biologyNotes = "# Biology\n\nPhotosynthesis converts light energy into chemical energy inside chloroplasts. " +
	"Plants take in carbon dioxide and release oxygen during the process."

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "routes-test", body["workspace"])
	assert.EqualValues(t, 0, body["chunks"])
}

func TestUploadArchiveAndAsk(t *testing.T) {
	router, deps := setupRouter(t, nil)
	data := notesZip(t, map[string]string{"biology.md": biologyNotes})

	w := serve(router, multipartRequest(t, "/api/sources/archive", upload{"notes.zip", data}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.IngestStatusIngested, res.Status)
	assert.Equal(t, "notes.zip", res.Source.Name)
	assert.Equal(t, models.SourceKindArchive, res.Source.Kind)
	assert.Equal(t, 1, res.Source.ChunkCount)

	// Same archive again is a no-op.
	w = serve(router, multipartRequest(t, "/api/sources/archive", upload{"notes.zip", data}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.IngestStatusAlreadyProcessed, res.Status)
	assert.Equal(t, 1, deps.Workspace.IndexLen())

	w = serve(router, jsonRequest(http.MethodPost, "/api/chat/ask", models.AskRequest{Question: "Where does photosynthesis happen?"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ans models.AskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.True(t, ans.Grounded)
	assert.Equal(t, "Photosynthesis happens in chloroplasts.", ans.Answer)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "notes.zip", ans.Citations[0].SourceName)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/chat/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Turns []models.ChatTurn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, models.RoleUser, hist.Turns[0].Role)
	assert.Equal(t, models.RoleAssistant, hist.Turns[1].Role)
}

func TestAskWithoutSourcesHidesCitations(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w := serve(router, jsonRequest(http.MethodPost, "/api/chat/ask", models.AskRequest{Question: "Anything?"}))
	require.Equal(t, http.StatusOK, w.Code)

	var ans models.AskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.False(t, ans.Grounded)
	assert.Equal(t, services.UnknownAnswer, ans.Answer)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
}

func TestAskRejectsMissingQuestion(t *testing.T) {
	router, _ := setupRouter(t, nil)

	w := serve(router, jsonRequest(http.MethodPost, "/api/chat/ask", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bad_request", body.ErrorCode)
}

func TestUploadValidation(t *testing.T) {
	router, _ := setupRouter(t, func(d *Dependencies) { d.Config.MaxFileSize = 16 })

	w := serve(router, multipartRequest(t, "/api/sources/pdf", upload{"notes.txt", []byte("x")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_file_type")

	w = serve(router, multipartRequest(t, "/api/sources/pdf", upload{"big.pdf", bytes.Repeat([]byte("a"), 64)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodPost, "/api/sources/pdf", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadBrokenPDF(t *testing.T) {
	router, deps := setupRouter(t, nil)

	w := serve(router, multipartRequest(t, "/api/sources/pdf", upload{"broken.pdf", []byte("not a pdf")}))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "extraction_failed", body.ErrorCode)
	assert.Empty(t, deps.Workspace.Sources())
}

func TestMultiFileUploadReportsEachItem(t *testing.T) {
	router, deps := setupRouter(t, nil)

	good := notesZip(t, map[string]string{"biology.md": biologyNotes})
	empty := notesZip(t, map[string]string{"image.png": "\x89PNG"})

	w := serve(router, multipartRequest(t, "/api/sources/archive",
		upload{"good.zip", good},
		upload{"empty.zip", empty},
	))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Results []batchItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)

	assert.Equal(t, models.IngestStatusIngested, body.Results[0].Status)
	require.NotNil(t, body.Results[0].Source)
	assert.Equal(t, "good.zip", body.Results[0].Source.Name)

	assert.Equal(t, "failed", body.Results[1].Status)
	require.NotNil(t, body.Results[1].Error)
	assert.Equal(t, "extraction_failed", body.Results[1].Error.ErrorCode)

	require.Len(t, deps.Workspace.Sources(), 1)
}

func TestWebSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wiki/Chloroplast" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>Chloroplast</title></head><body><p>"+
			"A chloroplast is an organelle that conducts photosynthesis in plant cells.</p></body></html>")
	}))
	defer srv.Close()

	router, deps := setupRouter(t, nil)

	w := serve(router, jsonRequest(http.MethodPost, "/api/sources/web", models.WebSourceRequest{URL: srv.URL + "/wiki/Chloroplast"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Chloroplast", res.Source.Name)
	assert.Equal(t, models.SourceKindWeb, res.Source.Kind)
	assert.Equal(t, srv.URL+"/wiki/Chloroplast", res.Source.OriginURL)

	w = serve(router, jsonRequest(http.MethodPost, "/api/sources/web", models.WebSourceRequest{URL: srv.URL + "/wiki/Missing"}))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "extraction_failed", body.ErrorCode)
	details, ok := body.Details.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, http.StatusNotFound, details["status_code"])

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list models.SourceListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sources, 1)
	assert.Equal(t, deps.Workspace.TotalChunks(), list.TotalChunks)
}

func TestClearAllAndResetChat(t *testing.T) {
	router, deps := setupRouter(t, nil)
	data := notesZip(t, map[string]string{"biology.md": biologyNotes})

	require.Equal(t, http.StatusOK, serve(router, multipartRequest(t, "/api/sources/archive", upload{"notes.zip", data})).Code)
	require.Equal(t, http.StatusOK, serve(router, jsonRequest(http.MethodPost, "/api/chat/ask", models.AskRequest{Question: "chloroplasts?"})).Code)

	w := serve(router, httptest.NewRequest(http.MethodDelete, "/api/chat/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, deps.Workspace.Turns())
	assert.Equal(t, 1, deps.Workspace.IndexLen())

	w = serve(router, httptest.NewRequest(http.MethodDelete, "/api/sources", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, deps.Workspace.Sources())
	assert.Zero(t, deps.Workspace.IndexLen())

	// A cleared source can be added again.
	w = serve(router, multipartRequest(t, "/api/sources/archive", upload{"notes.zip", data}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.IngestStatusIngested)
}

func TestExport(t *testing.T) {
	router, _ := setupRouter(t, nil)
	data := notesZip(t, map[string]string{"biology.md": biologyNotes})
	require.Equal(t, http.StatusOK, serve(router, multipartRequest(t, "/api/sources/archive", upload{"notes.zip", data})).Code)
	require.Equal(t, http.StatusOK, serve(router, jsonRequest(http.MethodPost, "/api/chat/ask", models.AskRequest{Question: "chloroplasts?"})).Code)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/chat/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	var doc services.ChatExportData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "routes-test", doc.ExportInfo.WorkspaceID)
	assert.Equal(t, 1, doc.Summary.Questions)
	assert.Len(t, doc.Turns, 2)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/chat/export?format=xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/chat/export?format=csv", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsyncIngestion(t *testing.T) {
	t.Run("queue disabled", func(t *testing.T) {
		router, _ := setupRouter(t, nil)

		w := serve(router, jsonRequest(http.MethodPost, "/api/sources/web?async=true", models.WebSourceRequest{URL: "https://example.com/a"}))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = serve(router, httptest.NewRequest(http.MethodGet, "/api/tasks/abc", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("queued", func(t *testing.T) {
		q := &fakeQueue{tasks: map[string]*queue.TaskStatus{
			"task-1": {ID: "task-1", Type: queue.TaskIngestFile, State: "completed"},
		}}
		router, deps := setupRouter(t, func(d *Dependencies) { d.Queue = q })
		data := notesZip(t, map[string]string{"biology.md": biologyNotes})

		w := serve(router, multipartRequest(t, "/api/sources/archive?async=true", upload{"notes.zip", data}))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		var res models.IngestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, models.IngestStatusQueued, res.Status)
		assert.Equal(t, "task-1", res.TaskID)
		assert.Equal(t, []string{"Archive:notes.zip"}, q.files)
		assert.Zero(t, deps.Workspace.IndexLen())

		w = serve(router, jsonRequest(http.MethodPost, "/api/sources/web?async=1", models.WebSourceRequest{URL: "https://example.com/a"}))
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, []string{"https://example.com/a"}, q.urls)

		w = serve(router, httptest.NewRequest(http.MethodGet, "/api/tasks/task-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "completed")

		w = serve(router, httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAuthGuardsAPI(t *testing.T) {
	const secret = "routes-secret"
	router, _ := setupRouter(t, func(d *Dependencies) { d.Auth = middleware.NewAuthMiddleware(secret) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays public.
	w = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := utils.GenerateJWT("student", "routes-test", secret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassify(t *testing.T) {
	status, body := classify(&services.ExtractionError{Kind: models.SourceKindWeb, Source: "x", StatusCode: 503, Retryable: true, Err: errors.New("down")})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "extraction_failed", body.ErrorCode)

	status, body = classify(fmt.Errorf("wrapped: %w", &ai.ProviderError{Provider: "gemini", Op: "embed", Retryable: true, Err: errors.New("quota")}))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "provider_error", body.ErrorCode)

	status, body = classify(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.True(t, strings.HasPrefix(body.ErrorCode, "internal"))
}
