package memory_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/memory"
)

func newTestUnit(id string, embedding []float32, mutate ...func(*memory.Unit)) *memory.Unit {
	now := time.Now()
	unit := &memory.Unit{
		ID:           id,
		SourceID:     "source-1",
		Content:      "content for " + id,
		Code:         "1",
		Importance:   0.5,
		Confidence:   1.0,
		Status:       memory.StatusActive,
		SourceType:   memory.SourceTypeUser,
		Embedding:    embedding,
		LastAccessAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, fn := range mutate {
		fn(unit)
	}
	return unit
}

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	unit := newTestUnit("unit-1", []float32{0.1, 0.2, 0.3}, func(u *memory.Unit) {
		u.Tags = []string{"tag1", "tag2"}
	})
	require.NoError(t, store.Create(ctx, []*memory.Unit{unit}))

	stored, err := store.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, unit.Content, stored.Content)
	assert.Equal(t, unit.Tags, stored.Tags)
	assert.Equal(t, unit.Embedding, stored.Embedding)
	assert.Equal(t, memory.StatusActive, stored.Status)

	// The store hands back clones, not its own records.
	stored.Content = "mutated"
	again, err := store.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, unit.Content, again.Content)
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := memory.NewInMemoryStore()

	_, err := store.Get(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInMemoryStore_CreateRejectsInvalidUnits(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	tests := []struct {
		name   string
		mutate func(*memory.Unit)
	}{
		{"no content", func(u *memory.Unit) { u.Content = "" }},
		{"no embedding", func(u *memory.Unit) { u.Embedding = nil }},
		{"zero embedding", func(u *memory.Unit) { u.Embedding = []float32{0, 0, 0} }},
		{"unknown status", func(u *memory.Unit) { u.Status = "frozen" }},
		{"retired without reason", func(u *memory.Unit) { u.Status = memory.StatusRetired }},
		{"importance out of range", func(u *memory.Unit) { u.Importance = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := newTestUnit("unit-"+tt.name, []float32{0.1, 0.2}, tt.mutate)
			err := store.Create(ctx, []*memory.Unit{unit})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidParams))
		})
	}
}

func TestInMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	unit := newTestUnit("unit-1", []float32{0.1, 0.2})
	require.NoError(t, store.Create(ctx, []*memory.Unit{unit}))

	err := store.Create(ctx, []*memory.Unit{newTestUnit("unit-1", []float32{0.3, 0.4})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidParams))
}

func TestInMemoryStore_CreateIsAtomic(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	good := newTestUnit("unit-good", []float32{0.1, 0.2})
	bad := newTestUnit("unit-bad", nil)
	require.Error(t, store.Create(ctx, []*memory.Unit{good, bad}))

	// Neither record may land when one of them is rejected.
	_, err := store.Get(ctx, "unit-good")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInMemoryStore_ListFiltersAndOrders(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	base := time.Now().Add(-time.Hour)
	units := []*memory.Unit{
		newTestUnit("unit-a", []float32{1, 0}, func(u *memory.Unit) {
			u.CreatedAt = base
			u.Tags = []string{"go"}
		}),
		newTestUnit("unit-b", []float32{0, 1}, func(u *memory.Unit) {
			u.CreatedAt = base.Add(time.Minute)
			u.Status = memory.StatusArchived
			u.Tags = []string{"rust"}
		}),
		newTestUnit("unit-c", []float32{1, 1}, func(u *memory.Unit) {
			u.CreatedAt = base.Add(2 * time.Minute)
			u.Importance = 0.9
			u.SourceType = memory.SourceTypeDocument
		}),
	}
	require.NoError(t, store.Create(ctx, units))

	all, err := store.List(ctx, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "unit-a", all[0].ID)
	assert.Equal(t, "unit-b", all[1].ID)
	assert.Equal(t, "unit-c", all[2].ID)

	active, err := store.List(ctx, memory.Filter{Statuses: []memory.Status{memory.StatusActive}})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	tagged, err := store.List(ctx, memory.Filter{Tags: []string{"rust", "python"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "unit-b", tagged[0].ID)

	important, err := store.List(ctx, memory.Filter{MinImportance: 0.8})
	require.NoError(t, err)
	require.Len(t, important, 1)
	assert.Equal(t, "unit-c", important[0].ID)

	docs, err := store.List(ctx, memory.Filter{SourceTypes: []memory.SourceType{memory.SourceTypeDocument}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "unit-c", docs[0].ID)

	recent, err := store.List(ctx, memory.Filter{CreatedAfter: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	paged, err := store.List(ctx, memory.Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "unit-b", paged[0].ID)

	ids, err := store.ListIDs(ctx, memory.Filter{Statuses: []memory.Status{memory.StatusActive}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit-a", "unit-c"}, ids)

	count, err := store.Count(ctx, memory.Filter{Statuses: []memory.Status{memory.StatusArchived}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestInMemoryStore_Update(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	unit := newTestUnit("unit-1", []float32{0.1, 0.2})
	require.NoError(t, store.Create(ctx, []*memory.Unit{unit}))

	unit.Status = memory.StatusArchived
	unit.Importance = 0.2
	require.NoError(t, store.Update(ctx, []*memory.Unit{unit}))

	stored, err := store.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, memory.StatusArchived, stored.Status)
	assert.Equal(t, 0.2, stored.Importance)

	missing := newTestUnit("unit-missing", []float32{0.1, 0.2})
	err = store.Update(ctx, []*memory.Unit{missing})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInMemoryStore_SearchOrdersBySimilarity(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	units := []*memory.Unit{
		newTestUnit("unit-x", []float32{1, 0, 0}),
		newTestUnit("unit-y", []float32{0.9, 0.1, 0}),
		newTestUnit("unit-z", []float32{0, 0, 1}),
	}
	require.NoError(t, store.Create(ctx, units))

	scored, err := store.Search(ctx, []float32{1, 0, 0}, memory.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, "unit-x", scored[0].Unit.ID)
	assert.Equal(t, "unit-y", scored[1].Unit.ID)
	assert.Equal(t, "unit-z", scored[2].Unit.ID)
	assert.InDelta(t, 1.0, scored[0].Similarity, 1e-6)
	assert.InDelta(t, 0.0, scored[2].Similarity, 1e-6)

	limited, err := store.Search(ctx, []float32{1, 0, 0}, memory.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "unit-x", limited[0].Unit.ID)
}

func TestInMemoryStore_SearchRespectsFilter(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	units := []*memory.Unit{
		newTestUnit("unit-active", []float32{1, 0}),
		newTestUnit("unit-archived", []float32{1, 0}, func(u *memory.Unit) {
			u.Status = memory.StatusArchived
		}),
	}
	require.NoError(t, store.Create(ctx, units))

	scored, err := store.Search(ctx, []float32{1, 0}, memory.Filter{
		Statuses: []memory.Status{memory.StatusActive},
	}, 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "unit-active", scored[0].Unit.ID)
}

func TestInMemoryStore_SearchEmptyStore(t *testing.T) {
	store := memory.NewInMemoryStore()

	scored, err := store.Search(t.Context(), []float32{1, 0}, memory.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestInMemoryStore_AccessTrail(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	unit := newTestUnit("unit-1", []float32{0.1, 0.2})
	require.NoError(t, store.Create(ctx, []*memory.Unit{unit}))

	now := time.Now()
	require.NoError(t, store.RecordAccess(ctx, []string{"unit-1"}, now.Add(-48*time.Hour)))
	require.NoError(t, store.RecordAccess(ctx, []string{"unit-1"}, now.Add(-time.Hour)))
	require.NoError(t, store.RecordAccess(ctx, []string{"unit-1"}, now))

	// Only hits inside the window count.
	counts, err := store.AccessCounts(ctx, []string{"unit-1"}, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts["unit-1"])

	stored, err := store.Get(ctx, "unit-1")
	require.NoError(t, err)
	assert.WithinDuration(t, now, stored.LastAccessAt, time.Second)

	// Unknown IDs are skipped, not errors.
	require.NoError(t, store.RecordAccess(ctx, []string{"missing"}, now))
}

func TestInMemoryStore_ListManyIsStable(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := t.Context()

	created := time.Now()
	units := make([]*memory.Unit, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("unit-%02d", i)
		units = append(units, newTestUnit(id, []float32{1, float32(i)}, func(u *memory.Unit) {
			u.CreatedAt = created
		}))
	}
	require.NoError(t, store.Create(ctx, units))

	// Equal timestamps fall back to ID order, so batch walks stay stable.
	listed, err := store.List(ctx, memory.Filter{})
	require.NoError(t, err)
	require.Len(t, listed, 20)
	for i, unit := range listed {
		assert.Equal(t, fmt.Sprintf("unit-%02d", i), unit.ID)
	}
}
