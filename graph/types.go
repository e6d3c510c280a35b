package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/engramhq/engram/errors"
)

type (
	// Relation classifies an edge. The set is closed; edge construction and
	// serialization dispatch over it exhaustively.
	Relation string

	// Node mirrors one active memory unit that clears the importance floor.
	// It keeps only what traversal and sampling need; the unit ID leads back
	// to the full record.
	Node struct {
		ID         string    `json:"id"`
		SourceID   string    `json:"sourceId"`
		Code       string    `json:"code"`
		Importance float64   `json:"importance"`
		Tags       []string  `json:"tags,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	// Edge is directed. Relation and Strength describe the dominant
	// relation between the endpoints; Weight folds every present relation
	// in per the configured weights.
	Edge struct {
		From     string   `json:"from"`
		To       string   `json:"to"`
		Relation Relation `json:"relation"`
		Strength float64  `json:"strength"`
		Weight   float64  `json:"weight"`
	}

	// CoverageReport describes how much of the eligible unit set a build
	// captured. A finished full rebuild must report 1.0.
	CoverageReport struct {
		EligibleCount int           `json:"eligibleCount"`
		NodeCount     int           `json:"nodeCount"`
		CoverageRate  float64       `json:"coverageRate"`
		Duration      time.Duration `json:"duration"`
	}

	// FocusScope selects the region a focus view samples from. Zero values
	// widen the scope: no topic means every node, no center means no
	// connectivity restriction.
	FocusScope struct {
		// Topic matches node tags case-insensitively.
		Topic string `json:"topic,omitempty"`
		// CenterID restricts the view to nodes reachable from this unit.
		CenterID string `json:"centerId,omitempty"`
		// MaxNodes caps the sample. Zero falls back to the configured cap.
		MaxNodes int `json:"maxNodes,omitempty"`
	}

	// Subgraph is a sampled focus view. Node IDs are the top-level unit IDs,
	// so every node traces back to the full graph and to its unit.
	Subgraph struct {
		Scope     FocusScope `json:"scope"`
		Nodes     []Node     `json:"nodes"`
		Edges     []Edge     `json:"edges"`
		SampledAt time.Time  `json:"sampledAt"`
	}

	// Graph is one published build. It is immutable once live: updates build
	// a staged copy and swap it in whole.
	Graph struct {
		buildID string
		builtAt time.Time
		nodes   map[string]Node
		adj     map[string][]Edge
		edges   int
	}
)

const (
	RelationSemantic  Relation = "semantic"
	RelationHierarchy Relation = "hierarchy"
	RelationTemporal  Relation = "temporal"
)

// Valid reports whether r belongs to the closed relation set.
func (r Relation) Valid() bool {
	switch r {
	case RelationSemantic, RelationHierarchy, RelationTemporal:
		return true
	}
	return false
}

// ParseRelation converts stored text back into a Relation, rejecting
// anything outside the closed set.
func ParseRelation(s string) (Relation, error) {
	relation := Relation(s)
	if !relation.Valid() {
		return "", errors.Wrapf(errors.ErrInvalidParams, "unknown relation %q", s)
	}
	return relation, nil
}

// cacheKey pins a scope to one focus-cache slot.
func (s FocusScope) cacheKey() string {
	return strings.ToLower(s.Topic) + "\x00" + s.CenterID + "\x00" + strconv.Itoa(s.MaxNodes)
}

func (g *Graph) BuildID() string    { return g.buildID }
func (g *Graph) BuiltAt() time.Time { return g.builtAt }
func (g *Graph) NodeCount() int     { return len(g.nodes) }
func (g *Graph) EdgeCount() int     { return g.edges }

// Node returns the node for a unit ID.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Nodes returns every node ordered by unit ID.
func (g *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// EdgesFrom returns the outgoing edges of a node. The returned slice is
// shared; callers must not mutate it.
func (g *Graph) EdgesFrom(id string) []Edge {
	return g.adj[id]
}

// CoverageError reports a full rebuild that finished without covering every
// eligible unit. The previous graph stays live; the failed build is not
// served.
type CoverageError struct {
	EligibleCount int
	NodeCount     int
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("graph build covered %d of %d eligible units", e.NodeCount, e.EligibleCount)
}

func (e *CoverageError) Unwrap() error {
	return errors.ErrCoverageFault
}
