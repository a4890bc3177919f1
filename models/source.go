package models

import (
	"fmt"
	"time"
)

// SourceKind identifies the extractor that produced a Source.
type SourceKind string

const (
	SourceKindPDF     SourceKind = "PDF"
	SourceKindArchive SourceKind = "Archive"
	SourceKindWeb     SourceKind = "Web"
)

// Source is one ingested unit: a PDF file, a note archive or a web page.
type Source struct {
	Name        string     `bson:"name" json:"name"`
	Kind        SourceKind `bson:"kind" json:"kind"`
	ChunkCount  int        `bson:"chunk_count" json:"chunk_count"`
	OriginURL   string     `bson:"origin_url,omitempty" json:"origin_url,omitempty"`
	Fingerprint string     `bson:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	IngestedAt  time.Time  `bson:"ingested_at" json:"ingested_at"`
}

// Key is the registry identity of the source.
func (s Source) Key() SourceKey {
	return SourceKey{Name: s.Name, Kind: s.Kind}
}

// SourceKey is the (name, kind) pair sources are deduplicated on.
type SourceKey struct {
	Name string
	Kind SourceKind
}

func (k SourceKey) String() string {
	return string(k.Kind) + ":" + k.Name
}

// Chunk is a contiguous slice of extracted text from one Source.
type Chunk struct {
	ID         string     `bson:"chunk_id" json:"chunk_id"`
	Text       string     `bson:"text" json:"text"`
	SourceName string     `bson:"source_name" json:"source_name"`
	SourceKind SourceKind `bson:"source_kind" json:"source_kind"`
	Sequence   int        `bson:"sequence" json:"sequence"`
	Page       int        `bson:"page,omitempty" json:"page,omitempty"`
	Section    string     `bson:"section,omitempty" json:"section,omitempty"`
}

// ChunkID builds the stable identifier of the n-th chunk of a source.
func ChunkID(sourceName string, sequence int) string {
	return fmt.Sprintf("%s#%d", sourceName, sequence)
}

// IndexEntry pairs an embedding with the chunk it was computed from.
type IndexEntry struct {
	Vector []float32 `bson:"vector" json:"vector"`
	Chunk  Chunk     `bson:"chunk" json:"chunk"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievedChunk is a search hit with the provenance of its source attached.
type RetrievedChunk struct {
	ScoredChunk
	OriginURL string `json:"origin_url,omitempty"`
}

// Citation summarises one retrieved chunk shown next to an answer.
type Citation struct {
	Preview    string     `bson:"preview" json:"preview"`
	SourceName string     `bson:"source_name" json:"source_name"`
	SourceKind SourceKind `bson:"source_kind" json:"source_kind"`
	Page       int        `bson:"page,omitempty" json:"page,omitempty"`
	OriginURL  string     `bson:"origin_url,omitempty" json:"origin_url,omitempty"`
	Score      float64    `bson:"score" json:"score"`
}
