// Package workspace owns the state of one logical Q&A session: the source
// registry, the vector index built from those sources and the chat history.
package workspace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"iqbot/internal/vectorindex"
	"iqbot/models"
)

// Workspace keeps the registry and the index in step: the index holds
// entries of exactly the registered sources, and both are cleared together.
type Workspace struct {
	ID string

	// commitMu serializes operations that touch registry and index together.
	commitMu sync.Mutex
	registry *Registry
	index    *vectorindex.Store
	history  *ChatHistory
	revision atomic.Uint64
}

func New(id string) *Workspace {
	return &Workspace{
		ID:       id,
		registry: NewRegistry(),
		index:    vectorindex.New(),
		history:  NewChatHistory(),
	}
}

// Commit merges the chunks of src into the index and registers src with
// ChunkCount set to len(chunks). It returns false without touching anything
// when src is already registered. A failed merge registers nothing.
func (w *Workspace) Commit(src models.Source, chunks []models.Chunk, vectors [][]float32) (models.Source, bool, error) {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	if existing, ok := w.registry.Get(src.Name, src.Kind); ok {
		return existing, false, nil
	}
	if err := w.index.Merge(chunks, vectors); err != nil {
		return models.Source{}, false, err
	}
	src.ChunkCount = len(chunks)
	if src.IngestedAt.IsZero() {
		src.IngestedAt = time.Now().UTC()
	}
	w.registry.Register(src)
	w.revision.Add(1)
	return src, true, nil
}

// Contains reports whether name+kind is registered.
func (w *Workspace) Contains(name string, kind models.SourceKind) bool {
	return w.registry.Contains(name, kind)
}

// Source looks a registered source up.
func (w *Workspace) Source(name string, kind models.SourceKind) (models.Source, bool) {
	return w.registry.Get(name, kind)
}

// Sources lists registered sources in registration order.
func (w *Workspace) Sources() []models.Source { return w.registry.List() }

// TotalChunks sums chunk counts over registered sources.
func (w *Workspace) TotalChunks() int { return w.registry.TotalChunks() }

// Search queries the index.
func (w *Workspace) Search(query []float32, k int) ([]models.ScoredChunk, error) {
	return w.index.Search(query, k)
}

// IndexLen is the number of index entries.
func (w *Workspace) IndexLen() int { return w.index.Len() }

// Dimension is the index vector size, 0 while empty.
func (w *Workspace) Dimension() int { return w.index.Dimension() }

// AppendTurns adds turns to the chat history.
func (w *Workspace) AppendTurns(turns ...models.ChatTurn) {
	w.history.Append(turns...)
	w.revision.Add(1)
}

// Turns returns the chat history.
func (w *Workspace) Turns() []models.ChatTurn { return w.history.Turns() }

// ResetChat clears the chat history only.
func (w *Workspace) ResetChat() {
	w.history.Reset()
	w.revision.Add(1)
}

// Clear empties registry, index and chat history together.
func (w *Workspace) Clear() {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.registry.Clear()
	w.index.Reset()
	w.history.Reset()
	w.revision.Add(1)
}

// Revision increases on every mutation; persistence uses it to skip
// unchanged workspaces.
func (w *Workspace) Revision() uint64 { return w.revision.Load() }

// Snapshot captures a consistent copy of the workspace.
func (w *Workspace) Snapshot() models.WorkspaceSnapshot {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	entries := w.index.Entries()
	return models.WorkspaceSnapshot{
		WorkspaceID: w.ID,
		Revision:    w.revision.Load(),
		Dimension:   w.index.Dimension(),
		Sources:     w.registry.List(),
		EntryCount:  len(entries),
		Entries:     entries,
		Turns:       w.history.Turns(),
		SavedAt:     time.Now().UTC(),
	}
}

// Restore replaces the workspace contents with snap. Every entry must belong
// to a source listed in the snapshot and chunk counts must agree; otherwise
// the workspace is left unchanged.
func (w *Workspace) Restore(snap models.WorkspaceSnapshot) error {
	counts := make(map[models.SourceKey]int, len(snap.Sources))
	for _, s := range snap.Sources {
		if _, dup := counts[s.Key()]; dup {
			return fmt.Errorf("snapshot lists source %s twice", s.Key())
		}
		counts[s.Key()] = 0
	}
	for _, e := range snap.Entries {
		key := models.SourceKey{Name: e.Chunk.SourceName, Kind: e.Chunk.SourceKind}
		if _, ok := counts[key]; !ok {
			return fmt.Errorf("snapshot entry %s references unknown source %s", e.Chunk.ID, key)
		}
		counts[key]++
	}
	for _, s := range snap.Sources {
		if counts[s.Key()] != s.ChunkCount {
			return fmt.Errorf("snapshot source %s has %d entries, expected %d", s.Key(), counts[s.Key()], s.ChunkCount)
		}
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	if err := w.index.Restore(snap.Entries); err != nil {
		return err
	}
	w.registry.Clear()
	for _, s := range snap.Sources {
		w.registry.Register(s)
	}
	w.history.Reset()
	w.history.Append(snap.Turns...)
	w.revision.Store(snap.Revision)
	return nil
}
