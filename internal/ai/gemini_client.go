package ai

import (
	"context"
	"fmt"
	"strings"

	"iqbot/internal/config"
	"iqbot/internal/telemetry"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"
)

// Generator produces one completion for a fully built prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// GenerationSettings are the sampling parameters every generator applies.
type GenerationSettings struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

type GeminiClient struct {
	client   *genai.Client
	settings GenerationSettings
	guard    *guard
	metrics  *telemetry.Metrics
}

func NewGeminiClient(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for generation")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	return &GeminiClient{
		client: client,
		settings: GenerationSettings{
			Model:           cfg.GeminiModel,
			Temperature:     float32(cfg.Temperature),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		guard:   newGuard("GeminiAPI", cfg.ProviderRPM, cfg.ProviderTimeout, metrics),
		metrics: metrics,
	}, nil
}

func (gc *GeminiClient) Name() string { return "google/" + gc.settings.Model }

func (gc *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()

	span.SetAttributes(
		attribute.Int("gemini.prompt_chars", len(prompt)),
		attribute.String("gemini.model", gc.settings.Model),
	)

	result, err := gc.guard.do(ctx, "generate", func(ctx context.Context) (interface{}, error) {
		model := gc.client.GenerativeModel(gc.settings.Model)
		model.SetTemperature(gc.settings.Temperature)
		model.SetMaxOutputTokens(int32(gc.settings.MaxOutputTokens))
		model.SetCandidateCount(1)
		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		span.SetAttributes(
			attribute.Bool("gemini.error", true),
			attribute.String("gemini.error_message", err.Error()),
		)
		return "", err
	}

	resp := result.(*genai.GenerateContentResponse)
	if resp.UsageMetadata != nil {
		tokens := int64(resp.UsageMetadata.TotalTokenCount)
		span.SetAttributes(attribute.Int64("gemini.actual_tokens", tokens))
		gc.metrics.RecordTokensUsed(tokens, "google", gc.settings.Model)
	}

	text := responseText(resp)
	if text == "" {
		return "", providerErr("GeminiAPI", "generate", ErrEmptyResponse)
	}
	span.SetAttributes(attribute.Bool("gemini.success", true))
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return strings.TrimSpace(sb.String())
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

// NewGenerator builds the generator selected by GENERATION_PROVIDER.
func NewGenerator(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (Generator, error) {
	switch cfg.GenerationProvider {
	case "google", "":
		return NewGeminiClient(ctx, cfg, metrics)
	case "openai":
		return NewOpenAIClient(cfg, metrics)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.GenerationProvider)
	}
}
