package store

import (
	"context"

	"github.com/nidhogg/recall/internal/memory"
	"github.com/nidhogg/recall/internal/vectorstore"
	"go.uber.org/zap"
)

// VectorSidecar decorates a store so embeddings live in a Qdrant
// collection keyed by entry id instead of inline with the document.
// Entry documents pass through stripped of their vector; the embedding
// pair of the facade resolves against Qdrant.
type VectorSidecar struct {
	inner      memory.Store
	vectors    *vectorstore.Client
	collection string
	logger     *zap.Logger
}

// NewVectorSidecar wraps inner with Qdrant-backed embedding placement.
func NewVectorSidecar(inner memory.Store, vectors *vectorstore.Client, collection string, logger *zap.Logger) *VectorSidecar {
	return &VectorSidecar{inner: inner, vectors: vectors, collection: collection, logger: logger}
}

// Insert strips the inline embedding, persists the document, then
// upserts the vector. A vector write failure is logged, not fatal:
// the entry simply loses its semantic ranking until re-embedded.
func (s *VectorSidecar) Insert(ctx context.Context, e *memory.Entry) error {
	vector := e.Embedding
	stripped := e.Clone()
	stripped.Embedding = nil
	if err := s.inner.Insert(ctx, stripped); err != nil {
		return err
	}
	if vector != nil {
		if err := s.vectors.Upsert(ctx, s.collection, e.ID, vector, map[string]string{"owner_id": e.OwnerID}); err != nil {
			s.logger.Warn("embedding sidecar write failed",
				zap.String("entry", e.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *VectorSidecar) GetByID(ctx context.Context, ownerID, id string) (*memory.Entry, error) {
	return s.inner.GetByID(ctx, ownerID, id)
}

func (s *VectorSidecar) QueryByOwner(ctx context.Context, ownerID string, filters []memory.Filter) ([]*memory.Entry, error) {
	return s.inner.QueryByOwner(ctx, ownerID, filters)
}

func (s *VectorSidecar) UpdateFields(ctx context.Context, ownerID, id string, upd memory.FieldUpdate) error {
	return s.inner.UpdateFields(ctx, ownerID, id, upd)
}

// Delete removes the document and, best-effort, its sidecar vector.
func (s *VectorSidecar) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.inner.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.vectors.Delete(ctx, s.collection, id); err != nil {
		s.logger.Warn("embedding sidecar delete failed",
			zap.String("entry", id), zap.Error(err))
	}
	return nil
}

// InsertEmbedding upserts the vector in the sidecar collection.
func (s *VectorSidecar) InsertEmbedding(ctx context.Context, id string, vector []float32) error {
	return s.vectors.Upsert(ctx, s.collection, id, vector, nil)
}

// GetEmbedding resolves the vector from the sidecar collection.
func (s *VectorSidecar) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	vec, err := s.vectors.Get(ctx, s.collection, id)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return nil, memory.ErrNotFound
	}
	return vec, nil
}
