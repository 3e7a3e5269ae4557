// Package graph validates automation graphs and indexes them for traversal.
package graph

import "github.com/dukex/cartflow/pkg/models"

// Index is an arena of nodes keyed by id plus adjacency lists. It is built
// once from a graph snapshot and never mutated.
type Index struct {
	nodes    map[string]*models.Node
	order    []string
	outgoing map[string][]*models.Edge
	incoming map[string]int
}

func NewIndex(g *models.Graph) *Index {
	ix := &Index{
		nodes:    make(map[string]*models.Node),
		outgoing: make(map[string][]*models.Edge),
		incoming: make(map[string]int),
	}

	if g == nil {
		return ix
	}

	for _, n := range g.Nodes {
		if n == nil {
			continue
		}

		if _, exists := ix.nodes[n.ID]; !exists {
			ix.order = append(ix.order, n.ID)
		}

		ix.nodes[n.ID] = n
	}

	for _, e := range g.Edges {
		if e == nil {
			continue
		}

		ix.outgoing[e.Source] = append(ix.outgoing[e.Source], e)
		ix.incoming[e.Target]++
	}

	return ix
}

func (ix *Index) Node(id string) (*models.Node, bool) {
	n, ok := ix.nodes[id]

	return n, ok
}

// Nodes returns nodes in their original declaration order.
func (ix *Index) Nodes() []*models.Node {
	out := make([]*models.Node, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.nodes[id])
	}

	return out
}

func (ix *Index) Outgoing(id string) []*models.Edge {
	return ix.outgoing[id]
}

func (ix *Index) IncomingCount(id string) int {
	return ix.incoming[id]
}

// Next returns the target of the single outgoing edge of id. ok is false for terminal nodes.
func (ix *Index) Next(id string) (string, bool) {
	edges := ix.outgoing[id]
	if len(edges) == 0 {
		return "", false
	}

	return edges[0].Target, true
}

// Follow returns the target of the outgoing edge labeled label.
func (ix *Index) Follow(id, label string) (string, bool) {
	for _, e := range ix.outgoing[id] {
		if NormalizeLabel(e.Label) == label {
			return e.Target, true
		}
	}

	return "", false
}

// Triggers returns the entry points of the graph.
func (ix *Index) Triggers() []*models.Node {
	var out []*models.Node

	for _, id := range ix.order {
		if n := ix.nodes[id]; n.Kind == models.NodeKindTrigger {
			out = append(out, n)
		}
	}

	return out
}
