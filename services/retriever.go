package services

import (
	"context"
	"fmt"
	"time"

	"iqbot/internal/ai"
	"iqbot/internal/telemetry"
	"iqbot/internal/workspace"
	"iqbot/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultK is how many chunks a question retrieves.
const DefaultK = 5

// Retriever finds the chunks most similar to a query.
type Retriever struct {
	ws       *workspace.Workspace
	embedder ai.Embedder
	k        int
	metrics  *telemetry.Metrics
}

func NewRetriever(ws *workspace.Workspace, embedder ai.Embedder, k int, metrics *telemetry.Metrics) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{ws: ws, embedder: embedder, k: k, metrics: metrics}
}

// Retrieve returns up to k chunks, best first. k <= 0 uses the configured
// default. An empty index returns nothing without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = r.k
	}
	if r.ws.IndexLen() == 0 {
		return []models.RetrievedChunk{}, nil
	}

	ctx, span := otel.Tracer("retriever").Start(ctx, "retriever.retrieve")
	defer span.End()
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.ws.Search(vec, k)
	if err != nil {
		return nil, err
	}

	out := make([]models.RetrievedChunk, len(hits))
	for i, h := range hits {
		out[i] = models.RetrievedChunk{ScoredChunk: h}
		if src, ok := r.ws.Source(h.Chunk.SourceName, h.Chunk.SourceKind); ok {
			out[i].OriginURL = src.OriginURL
		}
	}

	span.SetAttributes(attribute.Int("retriever.k", k), attribute.Int("retriever.hits", len(out)))
	r.metrics.RecordRetrieval(time.Since(start).Seconds(), len(out))
	return out, nil
}
