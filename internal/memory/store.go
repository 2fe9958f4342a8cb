package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store implementations when no entry
// exists for the given id and owner.
var ErrNotFound = errors.New("entry not found")

// FieldUpdate is a partial per-document update. Nil fields are left
// untouched by the store.
type FieldUpdate struct {
	Body           *string
	CompressedBody []byte
	Compressed     *bool
	LastAccessedAt *time.Time
	AccessCount    *int64
	RelevanceScore *float64
}

// Store is the narrow boundary to the external persistent store.
// It is the only component that talks to durable storage; the core
// assumes nothing stronger than per-document atomicity. Batched
// mutations are sequences of independent per-document updates,
// tolerant of partial completion.
//
// Embeddings may live inline with the entry or in a parallel keyed
// collection; the core only requires that GetEmbedding resolves
// whatever placement the implementation chose.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, ownerID, id string) (*Entry, error)
	QueryByOwner(ctx context.Context, ownerID string, filters []Filter) ([]*Entry, error)
	UpdateFields(ctx context.Context, ownerID, id string, upd FieldUpdate) error
	Delete(ctx context.Context, ownerID, id string) error

	InsertEmbedding(ctx context.Context, id string, vector []float32) error
	GetEmbedding(ctx context.Context, id string) ([]float32, error)
}
