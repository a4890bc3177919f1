package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"iqbot/internal/config"
	"iqbot/internal/telemetry"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// openAIBatchLimit caps the inputs sent in one embeddings request.
const openAIBatchLimit = 256

func newOpenAIClient(cfg *config.Config) (*openai.Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	return openai.NewClientWithConfig(oc), nil
}

// OpenAIEmbedder embeds text with an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	guard  *guard
	dimensionTracker
}

func NewOpenAIEmbedder(cfg *config.Config, metrics *telemetry.Metrics) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{
		client: client,
		model:  cfg.OpenAIEmbeddingsModel,
		guard:  newGuard("OpenAIEmbeddings", cfg.ProviderRPM, cfg.ProviderTimeout, metrics),
	}, nil
}

func (e *OpenAIEmbedder) Name() string { return "openai/" + e.model }

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer("openai-client").Start(ctx, "openai.embed_documents")
	defer span.End()
	span.SetAttributes(attribute.Int("openai.texts", len(texts)), attribute.String("openai.model", e.model))

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIBatchLimit {
		end := start + openAIBatchLimit
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			span.SetAttributes(attribute.Bool("openai.error", true))
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, input []string) ([][]float32, error) {
	result, err := e.guard.do(ctx, "embed", func(ctx context.Context) (interface{}, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: input,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := result.(openai.EmbeddingResponse)
	if len(resp.Data) != len(input) {
		return nil, providerErr("OpenAIEmbeddings", "embed",
			fmt.Errorf("expected %d embeddings, got %d", len(input), len(resp.Data)))
	}
	// Data carries its own index; the API does not promise order.
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, providerErr("OpenAIEmbeddings", "embed", ErrEmptyResponse)
		}
		e.observe(d.Embedding)
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// OpenAIClient generates answers through the chat completions API.
type OpenAIClient struct {
	client   *openai.Client
	settings GenerationSettings
	guard    *guard
	metrics  *telemetry.Metrics
}

func NewOpenAIClient(cfg *config.Config, metrics *telemetry.Metrics) (*OpenAIClient, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{
		client: client,
		settings: GenerationSettings{
			Model:           cfg.OpenAIModel,
			Temperature:     float32(cfg.Temperature),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		guard:   newGuard("OpenAIAPI", cfg.ProviderRPM, cfg.ProviderTimeout, metrics),
		metrics: metrics,
	}, nil
}

func (oc *OpenAIClient) Name() string { return "openai/" + oc.settings.Model }

func (oc *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer("openai-client").Start(ctx, "openai.chat_completion")
	defer span.End()
	span.SetAttributes(
		attribute.Int("openai.prompt_chars", len(prompt)),
		attribute.String("openai.model", oc.settings.Model),
	)

	result, err := oc.guard.do(ctx, "generate", func(ctx context.Context) (interface{}, error) {
		return oc.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: oc.settings.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: oc.settings.Temperature,
			MaxTokens:   oc.settings.MaxOutputTokens,
			N:           1,
		})
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("openai.error", true), attribute.String("openai.error_message", err.Error()))
		return "", err
	}

	resp := result.(openai.ChatCompletionResponse)
	oc.metrics.RecordTokensUsed(int64(resp.Usage.TotalTokens), "openai", oc.settings.Model)
	span.SetAttributes(attribute.Int("openai.actual_tokens", resp.Usage.TotalTokens))

	if len(resp.Choices) == 0 {
		return "", providerErr("OpenAIAPI", "generate", ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", providerErr("OpenAIAPI", "generate", ErrEmptyResponse)
	}
	return text, nil
}
