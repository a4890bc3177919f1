package ai

import (
	"context"
	"fmt"
	"sync/atomic"

	"iqbot/internal/config"
	"iqbot/internal/telemetry"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"
)

// Embedder turns text into vectors. EmbedBatch is used for chunks and keeps
// input order; Embed is used for queries. Both share one dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is 0 until a remote provider has answered once.
	Dimension() int
	Name() string
}

// dimensionTracker remembers the vector length a remote model returns.
type dimensionTracker struct {
	dim atomic.Int64
}

func (d *dimensionTracker) Dimension() int { return int(d.dim.Load()) }

func (d *dimensionTracker) observe(vec []float32) {
	d.dim.CompareAndSwap(0, int64(len(vec)))
}

// geminiBatchLimit is the most requests BatchEmbedContents accepts at once.
const geminiBatchLimit = 100

// GeminiEmbedder embeds text with a Google embedding model.
type GeminiEmbedder struct {
	client     *genai.Client
	docModel   *genai.EmbeddingModel
	queryModel *genai.EmbeddingModel
	modelName  string
	guard      *guard
	dimensionTracker
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	docModel := client.EmbeddingModel(cfg.GoogleEmbeddingsModel)
	docModel.TaskType = genai.TaskTypeRetrievalDocument
	queryModel := client.EmbeddingModel(cfg.GoogleEmbeddingsModel)
	queryModel.TaskType = genai.TaskTypeRetrievalQuery

	return &GeminiEmbedder{
		client:     client,
		docModel:   docModel,
		queryModel: queryModel,
		modelName:  cfg.GoogleEmbeddingsModel,
		guard:      newGuard("GeminiEmbeddings", cfg.ProviderRPM, cfg.ProviderTimeout, metrics),
	}, nil
}

func (e *GeminiEmbedder) Name() string { return "google/" + e.modelName }

func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.embed_documents")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.texts", len(texts)),
		attribute.String("gemini.model", e.modelName),
	)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := start + geminiBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		batch := e.docModel.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		result, err := e.guard.do(ctx, "embed", func(ctx context.Context) (interface{}, error) {
			return e.docModel.BatchEmbedContents(ctx, batch)
		})
		if err != nil {
			span.SetAttributes(attribute.Bool("gemini.error", true))
			return nil, err
		}

		resp := result.(*genai.BatchEmbedContentsResponse)
		if len(resp.Embeddings) != end-start {
			return nil, providerErr("GeminiEmbeddings", "embed",
				fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Embeddings)))
		}
		for _, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, providerErr("GeminiEmbeddings", "embed", ErrEmptyResponse)
			}
			e.observe(emb.Values)
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.embed_query")
	defer span.End()

	result, err := e.guard.do(ctx, "embed", func(ctx context.Context) (interface{}, error) {
		return e.queryModel.EmbedContent(ctx, genai.Text(text))
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}

	resp := result.(*genai.EmbedContentResponse)
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, providerErr("GeminiEmbeddings", "embed", ErrEmptyResponse)
	}
	e.observe(resp.Embedding.Values)
	return resp.Embedding.Values, nil
}

func (e *GeminiEmbedder) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// NewEmbedder builds the embedder selected by EMBEDDINGS_PROVIDER.
func NewEmbedder(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (Embedder, error) {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		return NewGeminiEmbedder(ctx, cfg, metrics)
	case "openai":
		return NewOpenAIEmbedder(cfg, metrics)
	case "local":
		return NewLocalEmbedder(cfg.LocalEmbeddingsDim), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}
