package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/sliceutils"
)

// FocusView samples a bounded, importance-weighted view of the live graph.
// Views are cached briefly per scope; a build swap purges the cache. The
// returned subgraph is shared with the cache and must not be mutated.
func (x *index) FocusView(ctx context.Context, scope FocusScope) (*Subgraph, error) {
	_, span := x.tracer.Start(ctx, "graph.FocusView")
	defer span.End()

	live, _ := x.snapshot()
	if live == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no graph has been built yet")
	}
	if scope.MaxNodes <= 0 {
		scope.MaxNodes = x.config.FocusMaxNodes
	}
	if scope.MaxNodes <= 0 {
		scope.MaxNodes = 200
	}

	key := scope.cacheKey()
	if view, ok := x.focusCache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return view, nil
	}

	view := sampleView(live, scope)
	x.focusCache.Add(key, view)
	span.SetAttributes(
		attribute.Bool("cached", false),
		attribute.Int("nodes", len(view.Nodes)),
		attribute.Int("edges", len(view.Edges)),
	)
	return view, nil
}

func sampleView(g *Graph, scope FocusScope) *Subgraph {
	view := &Subgraph{
		Scope:     scope,
		Nodes:     []Node{},
		Edges:     []Edge{},
		SampledAt: time.Now(),
	}

	candidates := make([]Node, 0)
	for _, node := range g.Nodes() {
		if scope.Topic != "" && !nodeMatchesTopic(node, scope.Topic) {
			continue
		}
		candidates = append(candidates, node)
	}

	var center *Node
	if scope.CenterID != "" {
		node, ok := g.Node(scope.CenterID)
		if !ok {
			// A center outside the graph matches nothing.
			return view
		}
		center = &node
		candidates = reachableFrom(g, scope.CenterID, candidates)
	}
	if len(candidates) == 0 {
		return view
	}

	importance := func(n Node) float64 { return n.Importance }
	var sampled []Node
	if center != nil {
		rest := make([]Node, 0, len(candidates))
		for _, node := range candidates {
			if node.ID != center.ID {
				rest = append(rest, node)
			}
		}
		sampled = sliceutils.WeightedSampleN(rest, scope.MaxNodes-1, importance)
		sampled = append(sampled, *center)
	} else if len(candidates) > scope.MaxNodes {
		sampled = sliceutils.WeightedSampleN(candidates, scope.MaxNodes, importance)
	} else {
		sampled = candidates
	}

	sort.Slice(sampled, func(i, j int) bool {
		if sampled[i].Importance != sampled[j].Importance {
			return sampled[i].Importance > sampled[j].Importance
		}
		return sampled[i].ID < sampled[j].ID
	})

	inView := make(map[string]struct{}, len(sampled))
	for _, node := range sampled {
		inView[node.ID] = struct{}{}
	}
	edges := make([]Edge, 0)
	for _, node := range sampled {
		for _, edge := range g.EdgesFrom(node.ID) {
			if _, ok := inView[edge.To]; ok {
				edges = append(edges, edge)
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Relation < edges[j].Relation
	})

	view.Nodes = sampled
	view.Edges = edges
	return view
}

func nodeMatchesTopic(node Node, topic string) bool {
	for _, tag := range node.Tags {
		if strings.EqualFold(tag, topic) {
			return true
		}
	}
	return false
}

// reachableFrom keeps the candidates connected to the center, walking edges
// only through the candidate set. The center itself is always in.
func reachableFrom(g *Graph, centerID string, candidates []Node) []Node {
	allowed := make(map[string]struct{}, len(candidates))
	for _, node := range candidates {
		allowed[node.ID] = struct{}{}
	}

	visited := map[string]struct{}{centerID: {}}
	queue := []string{centerID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range g.EdgesFrom(current) {
			if _, seen := visited[edge.To]; seen {
				continue
			}
			if _, ok := allowed[edge.To]; !ok {
				continue
			}
			visited[edge.To] = struct{}{}
			queue = append(queue, edge.To)
		}
	}

	reachable := make([]Node, 0, len(visited))
	if centerNode, ok := g.Node(centerID); ok {
		reachable = append(reachable, centerNode)
	}
	for _, node := range candidates {
		if node.ID == centerID {
			continue
		}
		if _, ok := visited[node.ID]; ok {
			reachable = append(reachable, node)
		}
	}
	return reachable
}
