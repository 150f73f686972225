package analysis

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

func vertexHash(v *Vertex) int { return v.ID }

// ToGraph exports the tree rooted at root as a directed graph keyed by
// vertex id. Edges point from a vertex to its dependents, so a topological
// order is a valid resolution order.
func ToGraph(root *Vertex) (graph.Graph[int, *Vertex], error) {
	g := graph.New(vertexHash, graph.Directed(), graph.Acyclic(), graph.Rooted())

	var err error
	Traverse(root, func(v *Vertex) {
		if err != nil {
			return
		}
		err = g.AddVertex(v, graph.VertexAttribute("label", v.String()))
	})
	if err != nil {
		return nil, fmt.Errorf("adding vertex: %w", err)
	}

	_, edges := PrintGraph(root)
	for _, e := range edges {
		opts := []func(*graph.EdgeProperties){
			graph.EdgeAttribute("conditional", strconv.FormatBool(e.Conditional)),
		}
		if e.Conditional {
			opts = append(opts, graph.EdgeAttribute("style", "dashed"))
		}
		if err := g.AddEdge(e.To.ID, e.From.ID, opts...); err != nil {
			return nil, fmt.Errorf("adding edge %s: %w", e, err)
		}
	}
	return g, nil
}

// ExecutionOrder returns the vertices in a stable topological order, root
// first, breaking ties by id.
func ExecutionOrder(root *Vertex) ([]*Vertex, error) {
	g, err := ToGraph(root)
	if err != nil {
		return nil, err
	}
	ids, err := graph.StableTopologicalSort(g, func(a, b int) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("sorting dependency graph: %w", err)
	}
	order := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := g.Vertex(id)
		if err != nil {
			return nil, err
		}
		order = append(order, v)
	}
	return order, nil
}

// Stages groups the vertices below root by depth. Every vertex in stage i
// depends on a vertex of stage i-1, so each stage can be resolved as one
// batch. Vertices within a stage are ordered by id.
func Stages(root *Vertex) [][]*Vertex {
	if root == nil {
		return nil
	}
	var stages [][]*Vertex
	level := root.DependOnMe
	for len(level) > 0 {
		stage := append([]*Vertex(nil), level...)
		sortByID(stage)
		stages = append(stages, stage)

		var next []*Vertex
		for _, v := range stage {
			next = append(next, v.DependOnMe...)
		}
		level = next
	}
	return stages
}

func sortByID(vs []*Vertex) {
	slices.SortFunc(vs, func(a, b *Vertex) int { return cmp.Compare(a.ID, b.ID) })
}

// WriteDOT renders the tree in Graphviz DOT format. Conditional edges are
// dashed.
func WriteDOT(root *Vertex, w io.Writer) error {
	g, err := ToGraph(root)
	if err != nil {
		return err
	}
	return draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR"))
}
