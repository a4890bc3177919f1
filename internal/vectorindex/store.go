// Package vectorindex is an in-memory, append-only cosine similarity index
// that keeps each vector paired with the chunk it was computed from.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"iqbot/models"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
	ErrEmptyVector       = errors.New("empty vector")
)

// IndexError reports a rejected create, merge or search. The index is left
// exactly as it was before the failed call.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func indexErr(op string, format string, args ...any) error {
	return &IndexError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Store is safe for concurrent use. Mutations are serialized and searches
// share a read lock, so a search never observes a half-applied merge.
type Store struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	norms     []float64
	chunks    []models.Chunk
}

func New() *Store { return &Store{} }

// Create drops the current contents and builds the index from one batch.
func (s *Store) Create(chunks []models.Chunk, vectors [][]float32) error {
	dim, err := validateBatch("create", chunks, vectors, 0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.dimension = dim
	s.append(chunks, vectors)
	return nil
}

// Merge appends a batch. Existing entries keep their positions; the entry
// count grows by exactly len(chunks). An empty index takes the dimension of
// the first batch.
func (s *Store) Merge(chunks []models.Chunk, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := validateBatch("merge", chunks, vectors, s.dimension)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if s.dimension == 0 {
		s.dimension = dim
	}
	s.append(chunks, vectors)
	return nil
}

// Search returns up to k entries by decreasing cosine similarity. Equal
// scores keep insertion order. An empty index yields an empty result.
func (s *Store) Search(query []float32, k int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 || k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(query) != s.dimension {
		return nil, indexErr("search", "%w: query has %d, index has %d", ErrDimensionMismatch, len(query), s.dimension)
	}

	qnorm := norm(query)
	scores := make([]float64, len(s.vectors))
	for i, v := range s.vectors {
		scores[i] = cosine(v, s.norms[i], query, qnorm)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]models.ScoredChunk, 0, k)
	for _, i := range order[:k] {
		results = append(results, models.ScoredChunk{Chunk: s.chunks[i], Score: scores[i]})
	}
	return results, nil
}

// Len is the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension is the vector size fixed by the first batch, 0 when empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Reset invalidates the whole index.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Entries returns a copy of every entry in insertion order.
func (s *Store) Entries() []models.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.IndexEntry, len(s.chunks))
	for i := range s.chunks {
		out[i] = models.IndexEntry{
			Vector: append([]float32(nil), s.vectors[i]...),
			Chunk:  s.chunks[i],
		}
	}
	return out
}

// Restore replaces the contents with previously exported entries.
func (s *Store) Restore(entries []models.IndexEntry) error {
	chunks := make([]models.Chunk, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		chunks[i] = e.Chunk
		vectors[i] = e.Vector
	}
	return s.Create(chunks, vectors)
}

func (s *Store) reset() {
	s.dimension = 0
	s.vectors = nil
	s.norms = nil
	s.chunks = nil
}

// append copies the batch in; callers hold the write lock and have validated it.
func (s *Store) append(chunks []models.Chunk, vectors [][]float32) {
	for i, v := range vectors {
		vec := append([]float32(nil), v...)
		s.vectors = append(s.vectors, vec)
		s.norms = append(s.norms, norm(vec))
		s.chunks = append(s.chunks, chunks[i])
	}
}

// validateBatch checks a batch against itself and, when want > 0, against
// the index dimension. It returns the batch dimension.
func validateBatch(op string, chunks []models.Chunk, vectors [][]float32, want int) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, indexErr(op, "%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}
	dim := want
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, indexErr(op, "%w at position %d", ErrEmptyVector, i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return 0, indexErr(op, "%w: vector %d has %d, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return dim, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
