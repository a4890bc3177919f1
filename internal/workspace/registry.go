package workspace

import (
	"sync"

	"iqbot/models"
)

// Registry tracks ingested sources in registration order, unique by name+kind.
type Registry struct {
	mu      sync.RWMutex
	sources []models.Source
	byKey   map[models.SourceKey]int
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[models.SourceKey]int)}
}

// Register records src and reports true, or reports false without changing
// anything when a source with the same name and kind is already present.
func (r *Registry) Register(src models.Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := src.Key()
	if _, ok := r.byKey[key]; ok {
		return false
	}
	r.byKey[key] = len(r.sources)
	r.sources = append(r.sources, src)
	return true
}

// Contains reports whether name+kind has been registered.
func (r *Registry) Contains(name string, kind models.SourceKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[models.SourceKey{Name: name, Kind: kind}]
	return ok
}

// Get looks a source up by name and kind.
func (r *Registry) Get(name string, kind models.SourceKind) (models.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byKey[models.SourceKey{Name: name, Kind: kind}]
	if !ok {
		return models.Source{}, false
	}
	return r.sources[i], true
}

// List returns the sources in registration order.
func (r *Registry) List() []models.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Source{}, r.sources...)
}

// Len is the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// TotalChunks sums chunk_count across sources.
func (r *Registry) TotalChunks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, s := range r.sources {
		total += s.ChunkCount
	}
	return total
}

// Clear forgets every source.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = nil
	r.byKey = make(map[models.SourceKey]int)
}
