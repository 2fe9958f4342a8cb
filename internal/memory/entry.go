package memory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidInput marks requests rejected before any I/O.
var ErrInvalidInput = errors.New("invalid input")

// Entry is a unit of stored knowledge with relevance bookkeeping.
// Body holds plain text; once an entry ages past the compression
// threshold the body moves to CompressedBody and Compressed is set.
type Entry struct {
	ID             string    `json:"id" bson:"_id"`
	OwnerID        string    `json:"owner_id" bson:"ownerId"`
	Body           string    `json:"body,omitempty" bson:"body,omitempty"`
	CompressedBody []byte    `json:"-" bson:"compressedBody,omitempty"`
	Compressed     bool      `json:"compressed" bson:"compressed"`
	CreatedAt      time.Time `json:"created_at" bson:"createdAt"`
	LastAccessedAt time.Time `json:"last_accessed_at" bson:"lastAccessedAt"`
	AccessCount    int64     `json:"access_count" bson:"accessCount"`
	RelevanceScore float64   `json:"relevance_score" bson:"relevanceScore"`
	Embedding      []float32 `json:"embedding,omitempty" bson:"embedding,omitempty"`
	Metadata       Metadata  `json:"metadata" bson:"metadata"`
}

// Metadata holds attributes set at creation and never recomputed.
type Metadata struct {
	Category   string            `json:"category,omitempty" bson:"category,omitempty"`
	Source     string            `json:"source,omitempty" bson:"source,omitempty"`
	TokenCount int               `json:"token_count,omitempty" bson:"tokenCount,omitempty"`
	Extra      map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
}

// NewEntryID builds an entry identifier from the owner, the creation
// instant and a random suffix. Identifiers are immutable once assigned.
func NewEntryID(ownerID string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", ownerID, now.UnixNano(), uuid.NewString()[:8])
}

// Clone returns a deep copy, so cached or returned entries can be
// mutated without aliasing store-owned state.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.CompressedBody != nil {
		c.CompressedBody = append([]byte(nil), e.CompressedBody...)
	}
	if e.Embedding != nil {
		c.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

// CloneEntries deep-copies a result set.
func CloneEntries(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// FilterKind enumerates the closed set of supported filter kinds.
type FilterKind string

const (
	FilterTimeRange  FilterKind = "time_range"
	FilterCategories FilterKind = "categories"
	FilterMinScore   FilterKind = "min_score"
)

// Filter narrows a query to a time range, a category list or a
// minimum relevance score. Exactly the fields for its Kind are read.
type Filter struct {
	Kind       FilterKind `json:"kind"`
	From       time.Time  `json:"from,omitempty"`
	To         time.Time  `json:"to,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	MinScore   float64    `json:"min_score,omitempty"`
}

// Validate rejects malformed filters before any I/O happens.
func (f Filter) Validate() error {
	switch f.Kind {
	case FilterTimeRange:
		if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
			return fmt.Errorf("%w: time range ends before it starts", ErrInvalidInput)
		}
	case FilterCategories:
		if len(f.Categories) == 0 {
			return fmt.Errorf("%w: categories filter needs at least one category", ErrInvalidInput)
		}
	case FilterMinScore:
		if f.MinScore < 0 || f.MinScore > 1 {
			return fmt.Errorf("%w: min score must be in [0,1]", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown filter kind %q", ErrInvalidInput, f.Kind)
	}
	return nil
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e *Entry) bool {
	switch f.Kind {
	case FilterTimeRange:
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && e.CreatedAt.After(f.To) {
			return false
		}
		return true
	case FilterCategories:
		for _, c := range f.Categories {
			if e.Metadata.Category == c {
				return true
			}
		}
		return false
	case FilterMinScore:
		return e.RelevanceScore >= f.MinScore
	}
	return false
}

// ValidateFilters validates every filter in a query.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MatchesAll reports whether the entry passes every filter.
func MatchesAll(e *Entry, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(e) {
			return false
		}
	}
	return true
}

// EstimateTokens gives a rough token count (~4 chars per token).
func EstimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
