package vectorindex

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"iqbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(source string, vectors ...[]float32) ([]models.Chunk, [][]float32) {
	chunks := make([]models.Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = models.Chunk{
			ID:         models.ChunkID(source, i),
			Text:       fmt.Sprintf("%s chunk %d", source, i),
			SourceName: source,
			Sequence:   i,
		}
	}
	return chunks, vectors
}

func TestMergeIsAdditive(t *testing.T) {
	s := New()
	c1, v1 := batch("a", []float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, s.Create(c1, v1))

	c2, v2 := batch("b", []float32{0, 0, 1}, []float32{1, 1, 0}, []float32{1, 0, 1})
	require.NoError(t, s.Merge(c2, v2))

	assert.Equal(t, 5, s.Len())
	entries := s.Entries()
	assert.Equal(t, "a#0", entries[0].Chunk.ID)
	assert.Equal(t, "a#1", entries[1].Chunk.ID)
	assert.Equal(t, "b#2", entries[4].Chunk.ID)
}

func TestMergeIntoEmptyIndexSetsDimension(t *testing.T) {
	s := New()
	c, v := batch("a", []float32{1, 2})
	require.NoError(t, s.Merge(c, v))
	assert.Equal(t, 2, s.Dimension())
}

func TestSearchOrdersByDecreasingSimilarity(t *testing.T) {
	s := New()
	c, v := batch("a",
		[]float32{0, 1, 0},
		[]float32{1, 0, 0},
		[]float32{0.7, 0.7, 0},
	)
	require.NoError(t, s.Create(c, v))

	hits, err := s.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a#1", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "a#2", hits[1].Chunk.ID)
	assert.Equal(t, "a#0", hits[2].Chunk.ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestSearchBreaksTiesByInsertionOrder(t *testing.T) {
	s := New()
	c1, v1 := batch("first", []float32{0, 1}, []float32{1, 0})
	require.NoError(t, s.Create(c1, v1))
	c2, v2 := batch("second", []float32{2, 0}, []float32{0, 3})
	require.NoError(t, s.Merge(c2, v2))

	hits, err := s.Search([]float32{1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "first#1", hits[0].Chunk.ID)
	assert.Equal(t, "second#0", hits[1].Chunk.ID)
	assert.Equal(t, "first#0", hits[2].Chunk.ID)
	assert.Equal(t, "second#1", hits[3].Chunk.ID)
}

func TestSearchReturnsFewerOnlyWhenIndexIsSmall(t *testing.T) {
	s := New()
	c, v := batch("a", []float32{1, 0}, []float32{0, 1})
	require.NoError(t, s.Create(c, v))

	hits, err := s.Search([]float32{1, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Search([]float32{1, 1}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchEmptyIndex(t *testing.T) {
	hits, err := New().Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCreateRejectsInconsistentDimensions(t *testing.T) {
	s := New()
	c, v := batch("a", []float32{1, 0}, []float32{1, 0, 0})

	err := s.Create(c, v)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "create", ie.Op)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Equal(t, 0, s.Len())
}

func TestFailedMergeLeavesIndexUntouched(t *testing.T) {
	s := New()
	c1, v1 := batch("a", []float32{1, 0}, []float32{0, 1})
	require.NoError(t, s.Create(c1, v1))
	before := s.Entries()

	c2, v2 := batch("b", []float32{1, 1}, []float32{1, 1, 1})
	err := s.Merge(c2, v2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	c3, v3 := batch("c", []float32{1, 1, 1})
	require.Error(t, s.Merge(c3, v3))

	assert.Equal(t, before, s.Entries())
	assert.Equal(t, 2, s.Dimension())
}

func TestMergeRejectsLengthMismatch(t *testing.T) {
	s := New()
	c, _ := batch("a", []float32{1, 0})
	err := s.Merge(c, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.Equal(t, 0, s.Len())
}

func TestSearchRejectsQueryDimension(t *testing.T) {
	s := New()
	c, v := batch("a", []float32{1, 0})
	require.NoError(t, s.Create(c, v))

	_, err := s.Search([]float32{1, 0, 0}, 1)
	var ie *IndexError
	assert.ErrorAs(t, err, &ie)
}

func TestResetAndRestore(t *testing.T) {
	s := New()
	c, v := batch("a", []float32{1, 0}, []float32{0, 1})
	require.NoError(t, s.Create(c, v))
	saved := s.Entries()

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Dimension())

	require.NoError(t, s.Restore(saved))
	assert.Equal(t, saved, s.Entries())
}

func TestEntriesAreCopies(t *testing.T) {
	s := New()
	vec := []float32{1, 0}
	c, v := batch("a", vec)
	require.NoError(t, s.Create(c, v))

	vec[0] = 42
	s.Entries()[0].Vector[1] = 42

	assert.Equal(t, []float32{1, 0}, s.Entries()[0].Vector)
}

func TestConcurrentMergeAndSearch(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			c, v := batch(fmt.Sprintf("s%d", w), []float32{1, float32(w)}, []float32{float32(w), 1})
			assert.NoError(t, s.Merge(c, v))
		}(w)
		go func() {
			defer wg.Done()
			_, err := s.Search([]float32{1, 1}, 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, s.Len())
}
