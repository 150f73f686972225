package analysis

// Traverse visits every vertex below and including root depth-first. A vertex
// is visited when popped from the stack; its children are then pushed left
// to right, so the last child is visited first.
func Traverse(root *Vertex, visit func(*Vertex)) {
	if root == nil {
		return
	}
	stack := []*Vertex{root}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(v)
		stack = append(stack, v.DependOnMe...)
	}
}

// PrintGraph lists the vertices in traversal order and, for each visited
// vertex, one edge per dependent.
func PrintGraph(root *Vertex) ([]*Vertex, []Edge) {
	var (
		vertices []*Vertex
		edges    []Edge
	)
	Traverse(root, func(v *Vertex) {
		vertices = append(vertices, v)
		for _, child := range v.DependOnMe {
			edges = append(edges, Edge{From: child, To: v, Conditional: isConditional(v, child)})
		}
	})
	return vertices, edges
}
