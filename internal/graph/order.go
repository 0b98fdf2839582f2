package graph

import "container/heap"

// nodeHeap orders ready nodes by declaration index.
type nodeHeap []*Node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].Index < h[j].Index }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(*Node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// internal reports whether the edge from -> to lies inside one cycle.
func internal(from, to *Node) bool {
	return from.Cycle != nil && from.Cycle == to.Cycle
}

// TopoOrder returns every node such that dependencies come before their
// consumers. Ties are broken by declaration index, so the order is
// deterministic. Edges inside a cycle are ignored; members of a cycle are
// ordered by declaration index.
func (g *Graph) TopoOrder() []*Node {
	pending := make([]int, len(g.Nodes))
	h := &nodeHeap{}
	for _, n := range g.Nodes {
		for _, dep := range n.Deps {
			if !internal(dep, n) {
				pending[n.Index]++
			}
		}
		if pending[n.Index] == 0 {
			*h = append(*h, n)
		}
	}
	heap.Init(h)

	out := make([]*Node, 0, len(g.Nodes))
	for h.Len() > 0 {
		n := heap.Pop(h).(*Node)
		out = append(out, n)
		for _, dependent := range n.Dependents {
			if internal(n, dependent) {
				continue
			}
			pending[dependent.Index]--
			if pending[dependent.Index] == 0 {
				heap.Push(h, dependent)
			}
		}
	}
	return out
}

// Ancestors returns the given nodes and everything they transitively
// depend on, in topological order.
func (g *Graph) Ancestors(nodes []*Node) []*Node {
	want := make(map[*Node]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if want[n] {
			return
		}
		want[n] = true
		for _, dep := range n.Deps {
			visit(dep)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	var out []*Node
	for _, n := range g.TopoOrder() {
		if want[n] {
			out = append(out, n)
		}
	}
	return out
}
