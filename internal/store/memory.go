package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nidhogg/recall/internal/memory"
)

// Memory is an in-process implementation of the store facade. It backs
// tests and the no-database development mode; per-entry atomicity comes
// from a single mutex, matching the weakest guarantees the core relies
// on.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memory.Entry
	vectors map[string][]float32
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memory.Entry),
		vectors: make(map[string][]float32),
	}
}

// Insert stores a copy of the entry.
func (m *Memory) Insert(_ context.Context, e *memory.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
	return nil
}

// GetByID returns a copy of the entry, scoped by owner.
func (m *Memory) GetByID(_ context.Context, ownerID, id string) (*memory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.OwnerID != ownerID {
		return nil, memory.ErrNotFound
	}
	return e.Clone(), nil
}

// QueryByOwner returns copies of the owner's entries that pass the
// filters, in stable id order.
func (m *Memory) QueryByOwner(_ context.Context, ownerID string, filters []memory.Filter) ([]*memory.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*memory.Entry
	for _, e := range m.entries {
		if e.OwnerID != ownerID {
			continue
		}
		if !memory.MatchesAll(e, filters) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateFields applies a partial update to one entry.
func (m *Memory) UpdateFields(_ context.Context, ownerID, id string, upd memory.FieldUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.OwnerID != ownerID {
		return memory.ErrNotFound
	}
	if upd.Body != nil {
		e.Body = *upd.Body
	}
	if upd.CompressedBody != nil {
		e.CompressedBody = append([]byte(nil), upd.CompressedBody...)
	}
	if upd.Compressed != nil {
		e.Compressed = *upd.Compressed
	}
	if upd.LastAccessedAt != nil {
		e.LastAccessedAt = *upd.LastAccessedAt
	}
	if upd.AccessCount != nil {
		e.AccessCount = *upd.AccessCount
	}
	if upd.RelevanceScore != nil {
		e.RelevanceScore = *upd.RelevanceScore
	}
	return nil
}

// Delete removes one entry and its sidecar vector.
func (m *Memory) Delete(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.OwnerID != ownerID {
		return memory.ErrNotFound
	}
	delete(m.entries, id)
	delete(m.vectors, id)
	return nil
}

// InsertEmbedding stores a vector keyed by entry id.
func (m *Memory) InsertEmbedding(_ context.Context, id string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[id] = append([]float32(nil), vector...)
	return nil
}

// GetEmbedding resolves a vector from either placement.
func (m *Memory) GetEmbedding(_ context.Context, id string) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vectors[id]; ok {
		return append([]float32(nil), v...), nil
	}
	if e, ok := m.entries[id]; ok && e.Embedding != nil {
		return append([]float32(nil), e.Embedding...), nil
	}
	return nil, memory.ErrNotFound
}
