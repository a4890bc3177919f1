package services

import (
	"context"
	"fmt"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/logger"
	"iqbot/internal/telemetry"
	"iqbot/internal/workspace"
	"iqbot/models"
	"iqbot/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// IngestResult is the outcome of ingesting one item.
type IngestResult struct {
	Source models.Source
	Status string
}

// IngestService runs extract, split and embed outside any lock, then commits
// the chunks and the source to the workspace in one step.
type IngestService struct {
	ws       *workspace.Workspace
	chunker  *SmartChunkingService
	embedder ai.Embedder
	pdf      *PDFExtractor
	archive  *ArchiveExtractor
	web      *WebExtractor
	metrics  *telemetry.Metrics
}

func NewIngestService(ws *workspace.Workspace, chunker *SmartChunkingService, embedder ai.Embedder, fetcher PageFetcher, metrics *telemetry.Metrics) *IngestService {
	return &IngestService{
		ws:       ws,
		chunker:  chunker,
		embedder: embedder,
		pdf:      NewPDFExtractor(),
		archive:  NewArchiveExtractor(),
		web:      NewWebExtractor(fetcher),
		metrics:  metrics,
	}
}

// IngestPDF adds an uploaded PDF. A name already registered as a PDF is
// reported as already processed and nothing is extracted.
func (s *IngestService) IngestPDF(ctx context.Context, up Upload) (IngestResult, error) {
	return s.ingestUpload(ctx, models.SourceKindPDF, up, s.pdf.Extract)
}

// IngestArchive adds a zip of Markdown notes.
func (s *IngestService) IngestArchive(ctx context.Context, up Upload) (IngestResult, error) {
	return s.ingestUpload(ctx, models.SourceKindArchive, up, s.archive.Extract)
}

// IngestURL fetches and adds one web page.
func (s *IngestService) IngestURL(ctx context.Context, rawURL string) (IngestResult, error) {
	start := time.Now()
	u, err := normalizeSourceURL(rawURL)
	if err != nil {
		return IngestResult{}, err
	}
	name := WebSourceName(u)
	if existing, ok := s.ws.Source(name, models.SourceKindWeb); ok {
		return s.alreadyProcessed(existing), nil
	}

	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.web")
	defer span.End()
	span.SetAttributes(attribute.String("source.name", name))

	doc, err := s.web.Extract(ctx, u.String())
	if err != nil {
		s.recordFailure(models.SourceKindWeb, name, start, err)
		return IngestResult{}, err
	}
	src := models.Source{
		Name:        doc.Name,
		Kind:        models.SourceKindWeb,
		OriginURL:   doc.OriginURL,
		Fingerprint: utils.FingerprintString(doc.OriginURL),
	}
	return s.index(ctx, src, doc, start)
}

// Ingest dispatches on kind; URL sources take the URL as name and no data.
func (s *IngestService) Ingest(ctx context.Context, kind models.SourceKind, name string, data []byte) (IngestResult, error) {
	switch kind {
	case models.SourceKindPDF:
		return s.IngestPDF(ctx, Upload{Name: name, Data: data})
	case models.SourceKindArchive:
		return s.IngestArchive(ctx, Upload{Name: name, Data: data})
	case models.SourceKindWeb:
		return s.IngestURL(ctx, name)
	}
	return IngestResult{}, fmt.Errorf("unknown source kind %q", kind)
}

func (s *IngestService) ingestUpload(ctx context.Context, kind models.SourceKind, up Upload,
	extract func(context.Context, Upload) (*Document, error)) (IngestResult, error) {
	start := time.Now()
	if up.Name == "" {
		return IngestResult{}, &ExtractionError{Kind: kind, Err: fmt.Errorf("upload has no file name")}
	}
	if existing, ok := s.ws.Source(up.Name, kind); ok {
		return s.alreadyProcessed(existing), nil
	}

	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.name", up.Name),
		attribute.String("source.kind", string(kind)),
		attribute.Int("source.bytes", len(up.Data)),
	)

	doc, err := extract(ctx, up)
	if err != nil {
		s.recordFailure(kind, up.Name, start, err)
		return IngestResult{}, err
	}
	src := models.Source{
		Name:        up.Name,
		Kind:        kind,
		Fingerprint: utils.Fingerprint(up.Data),
	}
	return s.index(ctx, src, doc, start)
}

func (s *IngestService) index(ctx context.Context, src models.Source, doc *Document, start time.Time) (IngestResult, error) {
	chunks := s.BuildChunks(doc)
	if len(chunks) == 0 {
		err := &ExtractionError{Kind: src.Kind, Source: src.Name, Err: ErrNoText}
		s.recordFailure(src.Kind, src.Name, start, err)
		return IngestResult{}, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.recordFailure(src.Kind, src.Name, start, err)
		return IngestResult{}, fmt.Errorf("embed %s: %w", src.Name, err)
	}

	committed, added, err := s.ws.Commit(src, chunks, vectors)
	if err != nil {
		s.recordFailure(src.Kind, src.Name, start, err)
		return IngestResult{}, fmt.Errorf("index %s: %w", src.Name, err)
	}
	if !added {
		// Lost a race with a concurrent ingestion of the same source.
		return s.alreadyProcessed(committed), nil
	}

	logger.Info("Source ingested",
		"source", committed.Name,
		"kind", committed.Kind,
		"chunks", committed.ChunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.metrics.RecordIngest(string(committed.Kind), models.IngestStatusIngested, time.Since(start).Seconds(), committed.ChunkCount)
	return IngestResult{Source: committed, Status: models.IngestStatusIngested}, nil
}

// BuildChunks splits every section independently and numbers the chunks
// across the whole document.
func (s *IngestService) BuildChunks(doc *Document) []models.Chunk {
	var chunks []models.Chunk
	for _, sec := range doc.Sections {
		for _, span := range s.chunker.SplitSpans(sec.Text) {
			c := models.Chunk{
				ID:         models.ChunkID(doc.Name, len(chunks)),
				Text:       span.Text,
				SourceName: doc.Name,
				SourceKind: doc.Kind,
				Sequence:   len(chunks),
				Page:       sec.PageAt(span.Start),
			}
			if doc.Kind == models.SourceKindArchive {
				c.Section = sec.Name
			}
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *IngestService) alreadyProcessed(src models.Source) IngestResult {
	logger.Info("Source already processed", "source", src.Name, "kind", src.Kind)
	s.metrics.RecordIngest(string(src.Kind), models.IngestStatusAlreadyProcessed, 0, 0)
	return IngestResult{Source: src, Status: models.IngestStatusAlreadyProcessed}
}

func (s *IngestService) recordFailure(kind models.SourceKind, name string, start time.Time, err error) {
	logger.Warn("Source ingestion failed",
		"source", name,
		"kind", kind,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	s.metrics.RecordIngest(string(kind), "failed", time.Since(start).Seconds(), 0)
}
