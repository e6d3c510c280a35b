package graph

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/engramhq/engram/chunking"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/memory"
)

type (
	pairKey [2]string

	// pairStrength accumulates the native strength of each relation observed
	// between two nodes. Zero means the relation is absent; every present
	// relation records a positive strength.
	pairStrength struct {
		semantic  float64
		hierarchy float64
		temporal  float64
	}

	timelineEntry struct {
		id string
		at time.Time
	}

	// staging accumulates one build before it is published. Full rebuilds
	// start empty; incremental updates start from the live graph and only
	// recompute the changed nodes.
	staging struct {
		buildID string

		base  *Graph
		dirty map[string]bool

		nodes map[string]Node
		vecs  map[string][]float64
		dim   int

		pairs    map[pairKey]*pairStrength
		byCode   map[string]string
		awaiting map[string][]string
		timeline []timelineEntry
	}
)

func makePairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

func qualifiedCode(sourceID, code string) string {
	return sourceID + "\x00" + code
}

func newStaging(buildID string) *staging {
	return &staging{
		buildID:  buildID,
		dirty:    make(map[string]bool),
		nodes:    make(map[string]Node),
		vecs:     make(map[string][]float64),
		pairs:    make(map[pairKey]*pairStrength),
		byCode:   make(map[string]string),
		awaiting: make(map[string][]string),
	}
}

// newStagingFrom seeds a staging area with the live graph so an incremental
// update only has to touch changed nodes.
func newStagingFrom(buildID string, base *Graph, baseVecs map[string][]float64) *staging {
	st := newStaging(buildID)
	st.base = base

	for id, node := range base.nodes {
		st.nodes[id] = node
		st.byCode[qualifiedCode(node.SourceID, node.Code)] = id
		st.timeline = append(st.timeline, timelineEntry{id: id, at: node.CreatedAt})
	}
	for id, vec := range baseVecs {
		if st.dim == 0 {
			st.dim = len(vec)
		}
		st.vecs[id] = vec
	}
	sort.Slice(st.timeline, func(i, j int) bool {
		if !st.timeline[i].at.Equal(st.timeline[j].at) {
			return st.timeline[i].at.Before(st.timeline[j].at)
		}
		return st.timeline[i].id < st.timeline[j].id
	})
	return st
}

// stageBatch stages the given units as nodes and records every relation the
// batch adds against the nodes staged so far. The returned edges feed the
// checkpoint.
func (st *staging) stageBatch(units []*memory.Unit, cfg *config.IndexConfig) []StagedEdge {
	added := make([]string, 0, len(units))
	for _, unit := range units {
		st.upsert(unit)
		added = append(added, unit.ID)
	}

	var out []StagedEdge
	st.semanticEdges(added, cfg, &out)
	st.hierarchyEdges(added, &out)
	st.temporalEdges(added, cfg, &out)
	return out
}

func (st *staging) upsert(unit *memory.Unit) {
	if _, exists := st.nodes[unit.ID]; exists {
		st.removeTimeline(unit.ID)
	}
	st.nodes[unit.ID] = Node{
		ID:         unit.ID,
		SourceID:   unit.SourceID,
		Code:       unit.Code,
		Importance: unit.Importance,
		Tags:       append([]string(nil), unit.Tags...),
		CreatedAt:  unit.CreatedAt,
	}
	if vec := normalizeVector(unit.Embedding); vec != nil {
		if st.dim == 0 {
			st.dim = len(vec)
		}
		if len(vec) == st.dim {
			st.vecs[unit.ID] = vec
		}
	} else {
		delete(st.vecs, unit.ID)
	}
	st.byCode[qualifiedCode(unit.SourceID, unit.Code)] = unit.ID
	st.insertTimeline(unit.ID, unit.CreatedAt)
	if st.base != nil {
		st.dirty[unit.ID] = true
	}
}

func (st *staging) remove(id string) {
	if node, ok := st.nodes[id]; ok {
		delete(st.nodes, id)
		delete(st.vecs, id)
		key := qualifiedCode(node.SourceID, node.Code)
		if st.byCode[key] == id {
			delete(st.byCode, key)
		}
		st.removeTimeline(id)
	}
	if st.base != nil {
		st.dirty[id] = true
	}
}

// retain drops every staged node outside keep. Used at the end of a full
// rebuild to shed units archived while the build ran.
func (st *staging) retain(keep map[string]struct{}) {
	for id := range st.nodes {
		if _, ok := keep[id]; !ok {
			st.remove(id)
		}
	}
}

// restorePairs reloads checkpointed relations when a rebuild resumes.
func (st *staging) restorePairs(edges []StagedEdge) {
	for _, edge := range edges {
		st.addPair(edge.From, edge.To, edge.Relation, edge.Strength, nil)
	}
}

// addPair records one relation between two nodes, once. Later observations
// of the same relation on the same pair are no-ops, which makes resumed and
// re-run batches idempotent.
func (st *staging) addPair(a, b string, relation Relation, strength float64, out *[]StagedEdge) {
	if a == b || strength <= 0 {
		return
	}
	key := makePairKey(a, b)
	ps := st.pairs[key]
	if ps == nil {
		ps = &pairStrength{}
		st.pairs[key] = ps
	}
	switch relation {
	case RelationSemantic:
		if ps.semantic != 0 {
			return
		}
		ps.semantic = strength
	case RelationHierarchy:
		if ps.hierarchy != 0 {
			return
		}
		ps.hierarchy = strength
	case RelationTemporal:
		if ps.temporal != 0 {
			return
		}
		ps.temporal = strength
	default:
		return
	}
	if out != nil {
		*out = append(*out, StagedEdge{From: key[0], To: key[1], Relation: relation, Strength: strength})
	}
}

// semanticEdges scores the batch against every staged vector with one matrix
// product per side. Vectors are normalized, so the products are cosines.
func (st *staging) semanticEdges(added []string, cfg *config.IndexConfig, out *[]StagedEdge) {
	if st.dim == 0 {
		return
	}
	batch := make([]string, 0, len(added))
	addedSet := make(map[string]struct{}, len(added))
	for _, id := range added {
		if _, ok := st.vecs[id]; ok {
			batch = append(batch, id)
			addedSet[id] = struct{}{}
		}
	}
	if len(batch) == 0 {
		return
	}

	others := make([]string, 0, len(st.vecs))
	for id := range st.vecs {
		if _, ok := addedSet[id]; !ok {
			others = append(others, id)
		}
	}
	sort.Strings(others)

	batchMatrix := st.denseFrom(batch)
	if len(others) > 0 {
		var cross mat.Dense
		cross.Mul(batchMatrix, st.denseFrom(others).T())
		for i := range batch {
			for j := range others {
				if cos := cross.At(i, j); cos >= cfg.SimilarityThreshold {
					st.addPair(batch[i], others[j], RelationSemantic, cos, out)
				}
			}
		}
	}
	if len(batch) > 1 {
		var within mat.Dense
		within.Mul(batchMatrix, batchMatrix.T())
		for i := 0; i < len(batch); i++ {
			for j := i + 1; j < len(batch); j++ {
				if cos := within.At(i, j); cos >= cfg.SimilarityThreshold {
					st.addPair(batch[i], batch[j], RelationSemantic, cos, out)
				}
			}
		}
	}
}

func (st *staging) denseFrom(ids []string) *mat.Dense {
	data := make([]float64, len(ids)*st.dim)
	for i, id := range ids {
		copy(data[i*st.dim:(i+1)*st.dim], st.vecs[id])
	}
	return mat.NewDense(len(ids), st.dim, data)
}

// hierarchyEdges connects parents and children along sourceID-scoped
// hierarchical codes. A child arriving before its parent waits until the
// parent is staged.
func (st *staging) hierarchyEdges(added []string, out *[]StagedEdge) {
	for _, id := range added {
		node := st.nodes[id]

		if parentCode := chunking.ParentCode(node.Code); parentCode != "" {
			parentKey := qualifiedCode(node.SourceID, parentCode)
			if parentID, ok := st.byCode[parentKey]; ok {
				st.addPair(parentID, id, RelationHierarchy, 1.0, out)
			} else {
				st.awaiting[parentKey] = append(st.awaiting[parentKey], id)
			}
		}

		key := qualifiedCode(node.SourceID, node.Code)
		for _, childID := range st.awaiting[key] {
			if _, ok := st.nodes[childID]; ok {
				st.addPair(id, childID, RelationHierarchy, 1.0, out)
			}
		}
		delete(st.awaiting, key)
	}
}

// temporalEdges connects nodes created within the configured window.
// Strength decays linearly with the gap and floors at 0.3.
func (st *staging) temporalEdges(added []string, cfg *config.IndexConfig, out *[]StagedEdge) {
	window := cfg.TemporalWindow
	if window <= 0 {
		return
	}
	for _, id := range added {
		node := st.nodes[id]
		earliest := node.CreatedAt.Add(-window)
		latest := node.CreatedAt.Add(window)

		start := sort.Search(len(st.timeline), func(i int) bool {
			return !st.timeline[i].at.Before(earliest)
		})
		for i := start; i < len(st.timeline) && !st.timeline[i].at.After(latest); i++ {
			other := st.timeline[i]
			if other.id == id {
				continue
			}
			gap := node.CreatedAt.Sub(other.at)
			if gap < 0 {
				gap = -gap
			}
			strength := math.Max(0.8-gap.Hours()*0.5, 0.3)
			st.addPair(id, other.id, RelationTemporal, strength, out)
		}
	}
}

func (st *staging) insertTimeline(id string, at time.Time) {
	i := sort.Search(len(st.timeline), func(i int) bool {
		if st.timeline[i].at.Equal(at) {
			return st.timeline[i].id >= id
		}
		return st.timeline[i].at.After(at)
	})
	st.timeline = append(st.timeline, timelineEntry{})
	copy(st.timeline[i+1:], st.timeline[i:])
	st.timeline[i] = timelineEntry{id: id, at: at}
}

func (st *staging) removeTimeline(id string) {
	for i, entry := range st.timeline {
		if entry.id == id {
			st.timeline = append(st.timeline[:i], st.timeline[i+1:]...)
			return
		}
	}
}

// publish freezes the staging area into an immutable graph. Base edges
// survive unless they touch a dirty node; fresh pairs are emitted in both
// directions with their combined weight.
func (st *staging) publish(cfg *config.IndexConfig, builtAt time.Time) *Graph {
	adj := make(map[string][]Edge, len(st.nodes))
	edgeCount := 0

	if st.base != nil {
		for from, edges := range st.base.adj {
			if st.dirty[from] {
				continue
			}
			if _, ok := st.nodes[from]; !ok {
				continue
			}
			kept := make([]Edge, 0, len(edges))
			for _, edge := range edges {
				if st.dirty[edge.To] {
					continue
				}
				if _, ok := st.nodes[edge.To]; !ok {
					continue
				}
				kept = append(kept, edge)
			}
			if len(kept) > 0 {
				adj[from] = kept
				edgeCount += len(kept)
			}
		}
	}

	for key, ps := range st.pairs {
		a, b := key[0], key[1]
		if _, ok := st.nodes[a]; !ok {
			continue
		}
		if _, ok := st.nodes[b]; !ok {
			continue
		}
		weight := cfg.SemanticWeight*ps.semantic +
			cfg.HierarchyWeight*ps.hierarchy +
			cfg.TemporalWeight*ps.temporal
		relation, strength := ps.dominant(cfg)
		adj[a] = append(adj[a], Edge{From: a, To: b, Relation: relation, Strength: strength, Weight: weight})
		adj[b] = append(adj[b], Edge{From: b, To: a, Relation: relation, Strength: strength, Weight: weight})
		edgeCount += 2
	}

	for id := range adj {
		edges := adj[id]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].Relation < edges[j].Relation
		})
	}

	return &Graph{
		buildID: st.buildID,
		builtAt: builtAt,
		nodes:   st.nodes,
		adj:     adj,
		edges:   edgeCount,
	}
}

// dominant picks the relation contributing the most weight; its native
// strength labels the edge.
func (ps *pairStrength) dominant(cfg *config.IndexConfig) (Relation, float64) {
	relation, strength := RelationSemantic, ps.semantic
	best := cfg.SemanticWeight * ps.semantic
	if c := cfg.HierarchyWeight * ps.hierarchy; c > best {
		relation, strength, best = RelationHierarchy, ps.hierarchy, c
	}
	if c := cfg.TemporalWeight * ps.temporal; c > best {
		relation, strength = RelationTemporal, ps.temporal
	}
	return relation, strength
}

func normalizeVector(embedding []float32) []float64 {
	if len(embedding) == 0 {
		return nil
	}
	vec := make([]float64, len(embedding))
	var norm float64
	for i, v := range embedding {
		vec[i] = float64(v)
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
