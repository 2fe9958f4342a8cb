package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/recall/internal/memory"
)

func testEntry(id, ownerID string) *memory.Entry {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &memory.Entry{
		ID:             id,
		OwnerID:        ownerID,
		Body:           "body of " + id,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata:       memory.Metadata{Category: "general"},
	}
}

func TestMemoryInsertGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := testEntry("e-1", "owner-a")
	if err := m.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetByID(ctx, "owner-a", "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "body of e-1" {
		t.Errorf("body = %q", got.Body)
	}

	// Entries are isolated from caller mutation in both directions.
	e.Body = "mutated after insert"
	got.Body = "mutated after get"
	fresh, _ := m.GetByID(ctx, "owner-a", "e-1")
	if fresh.Body != "body of e-1" {
		t.Errorf("store state aliased by caller: %q", fresh.Body)
	}
}

func TestMemoryOwnerScoping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Insert(ctx, testEntry("e-1", "owner-a")); err != nil {
		t.Fatal(err)
	}

	if _, err := m.GetByID(ctx, "owner-b", "e-1"); !errors.Is(err, memory.ErrNotFound) {
		t.Error("entry readable across owners")
	}
	if err := m.Delete(ctx, "owner-b", "e-1"); !errors.Is(err, memory.ErrNotFound) {
		t.Error("entry deletable across owners")
	}
	if err := m.UpdateFields(ctx, "owner-b", "e-1", memory.FieldUpdate{}); !errors.Is(err, memory.ErrNotFound) {
		t.Error("entry updatable across owners")
	}
}

func TestMemoryQueryByOwner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, e := range []*memory.Entry{
		testEntry("e-2", "owner-a"),
		testEntry("e-1", "owner-a"),
		testEntry("e-3", "owner-b"),
	} {
		if err := m.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.QueryByOwner(ctx, "owner-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	// Stable id order.
	if got[0].ID != "e-1" || got[1].ID != "e-2" {
		t.Errorf("order = [%s, %s], want [e-1, e-2]", got[0].ID, got[1].ID)
	}
}

func TestMemoryQueryFilterPushdown(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	prefs := testEntry("e-prefs", "owner-a")
	prefs.Metadata.Category = "prefs"
	if err := m.Insert(ctx, prefs); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(ctx, testEntry("e-general", "owner-a")); err != nil {
		t.Fatal(err)
	}

	got, err := m.QueryByOwner(ctx, "owner-a", []memory.Filter{
		{Kind: memory.FilterCategories, Categories: []string{"prefs"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e-prefs" {
		t.Fatalf("got %v, want only e-prefs", got)
	}
}

func TestMemoryUpdateFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Insert(ctx, testEntry("e-1", "owner-a")); err != nil {
		t.Fatal(err)
	}

	empty := ""
	flag := true
	count := int64(7)
	score := 0.42
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	err := m.UpdateFields(ctx, "owner-a", "e-1", memory.FieldUpdate{
		Body:           &empty,
		CompressedBody: []byte{1, 2, 3},
		Compressed:     &flag,
		AccessCount:    &count,
		RelevanceScore: &score,
		LastAccessedAt: &at,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := m.GetByID(ctx, "owner-a", "e-1")
	if got.Body != "" || !got.Compressed || got.AccessCount != 7 || got.RelevanceScore != 0.42 {
		t.Fatalf("partial update not applied: %+v", got)
	}
	if !got.LastAccessedAt.Equal(at) {
		t.Errorf("last accessed = %v, want %v", got.LastAccessedAt, at)
	}

	// Nil fields leave existing values untouched.
	if err := m.UpdateFields(ctx, "owner-a", "e-1", memory.FieldUpdate{}); err != nil {
		t.Fatal(err)
	}
	again, _ := m.GetByID(ctx, "owner-a", "e-1")
	if again.AccessCount != 7 {
		t.Errorf("empty update clobbered access count: %d", again.AccessCount)
	}
}

func TestMemoryEmbeddings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetEmbedding(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Sidecar placement.
	if err := m.Insert(ctx, testEntry("e-1", "owner-a")); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertEmbedding(ctx, "e-1", []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	vec, err := m.GetEmbedding(ctx, "e-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 1 {
		t.Fatalf("vec = %v", vec)
	}

	// Inline placement resolves through the same call.
	inline := testEntry("e-2", "owner-a")
	inline.Embedding = []float32{3, 4}
	if err := m.Insert(ctx, inline); err != nil {
		t.Fatal(err)
	}
	vec, err = m.GetEmbedding(ctx, "e-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 3 {
		t.Fatalf("vec = %v", vec)
	}

	// Deleting the entry drops the sidecar vector too.
	if err := m.Delete(ctx, "owner-a", "e-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetEmbedding(ctx, "e-1"); !errors.Is(err, memory.ErrNotFound) {
		t.Error("sidecar vector survived entry deletion")
	}
}
