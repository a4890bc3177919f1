package services

import (
	"iqbot/internal/ai"
	"iqbot/internal/config"
	"iqbot/internal/crawler"
	"iqbot/internal/telemetry"
	"iqbot/internal/workspace"
)

// Assistant bundles the services that share one workspace.
type Assistant struct {
	Workspace *workspace.Workspace
	Ingest    *IngestService
	Chat      *ChatService
	Export    *ExportService
}

// NewAssistant wires the ingestion and chat pipelines from configuration.
func NewAssistant(cfg *config.Config, ws *workspace.Workspace, embedder ai.Embedder, generator ai.Generator, metrics *telemetry.Metrics) *Assistant {
	chunker := NewSmartChunkingService(WithChunkSize(cfg.ChunkSize), WithOverlap(cfg.ChunkOverlap))
	fetcher := crawler.NewFetcher(crawler.FetchConfig{
		UserAgent:     cfg.WebUserAgent,
		Timeout:       cfg.WebTimeout,
		RenderJS:      cfg.WebRenderJS,
		RenderTimeout: cfg.WebRenderTimeout,
	})
	retriever := NewRetriever(ws, embedder, cfg.RetrievalK, metrics)
	synth := NewSynthesizer(generator, cfg.CitationPreviewLen, cfg.MaxContextChars)

	return &Assistant{
		Workspace: ws,
		Ingest:    NewIngestService(ws, chunker, embedder, fetcher, metrics),
		Chat:      NewChatService(ws, retriever, synth, metrics),
		Export:    NewExportService(),
	}
}
