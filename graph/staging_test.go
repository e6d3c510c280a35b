package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/memory"
)

func stagingUnit(id, sourceID, code string, embedding []float32, createdAt time.Time) *memory.Unit {
	return &memory.Unit{
		ID:         id,
		SourceID:   sourceID,
		Code:       code,
		Content:    "content for " + id,
		Importance: 0.5,
		Confidence: 1.0,
		Status:     memory.StatusActive,
		SourceType: memory.SourceTypeUser,
		Embedding:  embedding,
		CreatedAt:  createdAt,
	}
}

func pairOf(st *staging, a, b string) *pairStrength {
	return st.pairs[makePairKey(a, b)]
}

func TestStagingRelations(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	st := newStaging("build-1")
	staged := st.stageBatch([]*memory.Unit{
		stagingUnit("u1", "src-a", "1", []float32{1, 0}, t0),
		stagingUnit("u2", "src-a", "1.1", []float32{0.9, 0.43589}, t0.Add(30*time.Minute)),
		stagingUnit("u3", "src-a", "2", []float32{0, 1}, t0.Add(2*time.Hour)),
	}, cfg)

	// u1-u2: semantic (cos 0.9), hierarchy (1/1.1), temporal (30 min gap).
	pair := pairOf(st, "u1", "u2")
	require.NotNil(t, pair)
	assert.InDelta(t, 0.9, pair.semantic, 1e-6)
	assert.Equal(t, 1.0, pair.hierarchy)
	assert.InDelta(t, 0.55, pair.temporal, 1e-9)

	// u2-u3: semantic only (cos ~0.436); two hours apart, different parents.
	pair = pairOf(st, "u2", "u3")
	require.NotNil(t, pair)
	assert.InDelta(t, 0.43589, pair.semantic, 1e-4)
	assert.Zero(t, pair.hierarchy)
	assert.Zero(t, pair.temporal)

	// u1-u3: orthogonal and far apart, no pair at all.
	assert.Nil(t, pairOf(st, "u1", "u3"))

	// Checkpointable edges mirror the recorded pairs.
	relations := make(map[Relation]int)
	for _, edge := range staged {
		relations[edge.Relation]++
	}
	assert.Equal(t, 2, relations[RelationSemantic])
	assert.Equal(t, 1, relations[RelationHierarchy])
	assert.Equal(t, 1, relations[RelationTemporal])
}

func TestStagingPublish(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	st := newStaging("build-1")
	st.stageBatch([]*memory.Unit{
		stagingUnit("u1", "src-a", "1", []float32{1, 0}, t0),
		stagingUnit("u2", "src-a", "1.1", []float32{0.9, 0.43589}, t0.Add(30*time.Minute)),
		stagingUnit("u3", "src-a", "2", []float32{0, 1}, t0.Add(2*time.Hour)),
	}, cfg)

	g := st.publish(cfg, t0.Add(3*time.Hour))
	assert.Equal(t, "build-1", g.BuildID())
	assert.Equal(t, 3, g.NodeCount())
	// Two pairs, each emitted in both directions.
	assert.Equal(t, 4, g.EdgeCount())

	edges := g.EdgesFrom("u1")
	require.Len(t, edges, 1)
	edge := edges[0]
	assert.Equal(t, "u2", edge.To)
	// Weighted sum: 0.8*0.9 + 0.6*1.0 + 1.0*0.55.
	assert.InDelta(t, 1.87, edge.Weight, 1e-6)
	// Semantic contributes the most weight, so it labels the edge.
	assert.Equal(t, RelationSemantic, edge.Relation)
	assert.InDelta(t, 0.9, edge.Strength, 1e-6)

	// The mirrored direction carries the same weight.
	back := g.EdgesFrom("u2")
	require.Len(t, back, 2)
	assert.Equal(t, "u1", back[0].To)
	assert.InDelta(t, edge.Weight, back[0].Weight, 1e-9)
	assert.Equal(t, "u3", back[1].To)
}

func TestStagingHierarchyAcrossBatches(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	st := newStaging("build-1")
	// The child arrives a batch before its parent.
	st.stageBatch([]*memory.Unit{
		stagingUnit("child", "src-a", "1.2", []float32{0, 1}, t0.Add(48*time.Hour)),
	}, cfg)
	st.stageBatch([]*memory.Unit{
		stagingUnit("parent", "src-a", "1", []float32{1, 0}, t0),
	}, cfg)

	pair := pairOf(st, "parent", "child")
	require.NotNil(t, pair)
	assert.Equal(t, 1.0, pair.hierarchy)
}

func TestStagingTemporalStrength(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	st := newStaging("build-1")
	st.stageBatch([]*memory.Unit{
		stagingUnit("a", "src-a", "1", []float32{1, 0}, t0),
		stagingUnit("b", "src-b", "1", []float32{0, 1}, t0),
		stagingUnit("c", "src-c", "1", []float32{0, -1}, t0.Add(time.Hour)),
		stagingUnit("d", "src-d", "1", []float32{-1, 0}, t0.Add(3*time.Hour)),
	}, cfg)

	// Same instant: maximum strength.
	pair := pairOf(st, "a", "b")
	require.NotNil(t, pair)
	assert.InDelta(t, 0.8, pair.temporal, 1e-9)

	// Exactly the window apart: floored at 0.3.
	pair = pairOf(st, "a", "c")
	require.NotNil(t, pair)
	assert.InDelta(t, 0.3, pair.temporal, 1e-9)

	// Outside the window: no temporal relation.
	assert.Nil(t, pairOf(st, "a", "d"))
	assert.Nil(t, pairOf(st, "c", "d"))
}

func TestStagingIncremental(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	base := newStaging("build-1")
	base.stageBatch([]*memory.Unit{
		stagingUnit("u1", "src-a", "1", []float32{1, 0}, t0),
		stagingUnit("u2", "src-a", "1.1", []float32{0.9, 0.43589}, t0.Add(30*time.Minute)),
		stagingUnit("u3", "src-b", "1", []float32{0, 1}, t0.Add(72*time.Hour)),
	}, cfg)
	vecs := base.vecs
	live := base.publish(cfg, t0.Add(73*time.Hour))

	// Removing a node keeps unrelated base edges.
	st := newStagingFrom("build-2", live, vecs)
	st.remove("u3")
	g := st.publish(cfg, t0.Add(74*time.Hour))
	assert.Equal(t, 2, g.NodeCount())
	require.Len(t, g.EdgesFrom("u1"), 1)
	assert.Equal(t, "u2", g.EdgesFrom("u1")[0].To)
	_, ok := g.Node("u3")
	assert.False(t, ok)

	// An added node pairs against retained base nodes.
	st = newStagingFrom("build-3", live, vecs)
	st.stageBatch([]*memory.Unit{
		stagingUnit("u4", "src-a", "1.2", []float32{0.95, 0.31225}, t0.Add(20*time.Minute)),
	}, cfg)
	g = st.publish(cfg, t0.Add(74*time.Hour))
	assert.Equal(t, 4, g.NodeCount())

	pair := pairOf(st, "u1", "u4")
	require.NotNil(t, pair)
	assert.InDelta(t, 0.95, pair.semantic, 1e-4)
	assert.Equal(t, 1.0, pair.hierarchy)
	assert.InDelta(t, 0.8-float64(20)/60*0.5, pair.temporal, 1e-6)

	// The untouched base pair survives the republish.
	require.NotEmpty(t, g.EdgesFrom("u2"))
	var sawBase bool
	for _, edge := range g.EdgesFrom("u2") {
		if edge.To == "u1" {
			sawBase = true
		}
	}
	assert.True(t, sawBase)
}

func TestStagingResumeIsIdempotent(t *testing.T) {
	cfg := config.NewIndexConfig()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	units := []*memory.Unit{
		stagingUnit("u1", "src-a", "1", []float32{1, 0}, t0),
		stagingUnit("u2", "src-a", "1.1", []float32{0.9, 0.43589}, t0.Add(30*time.Minute)),
	}

	first := newStaging("build-1")
	staged := first.stageBatch(units, cfg)

	// A resumed build restores nodes and pairs, then replays nothing.
	resumed := newStaging("build-1")
	for _, unit := range units {
		resumed.upsert(unit)
	}
	resumed.restorePairs(staged)

	a := first.publish(cfg, t0)
	b := resumed.publish(cfg, t0)
	assert.Equal(t, a.NodeCount(), b.NodeCount())
	assert.Equal(t, a.EdgeCount(), b.EdgeCount())
	assert.Equal(t, a.EdgesFrom("u1"), b.EdgesFrom("u1"))
}
