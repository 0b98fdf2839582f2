package graph

// findCycles records every strongly connected component that contains more
// than one node or a self-reference, using Tarjan's algorithm over the
// arena in declaration order.
func (g *Graph) findCycles() {
	index := make(map[*Node]int, len(g.Nodes))
	low := make(map[*Node]int, len(g.Nodes))
	onStack := make(map[*Node]bool)
	var stack []*Node
	next := 0

	var visit func(n *Node)
	visit = func(n *Node) {
		index[n] = next
		low[n] = next
		next++
		stack = append(stack, n)
		onStack[n] = true

		for _, dep := range n.Dependents {
			if _, seen := index[dep]; !seen {
				visit(dep)
				low[n] = min(low[n], low[dep])
			} else if onStack[dep] {
				low[n] = min(low[n], index[dep])
			}
		}

		if low[n] != index[n] {
			return
		}
		var component []*Node
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == n {
				break
			}
		}
		if len(component) == 1 && !selfReferencing(n) {
			return
		}
		sortNodes(component)
		c := &Cycle{Nodes: component}
		for _, m := range component {
			m.Cycle = c
		}
		g.Cycles = append(g.Cycles, c)
	}

	for _, n := range g.Nodes {
		if _, seen := index[n]; !seen {
			visit(n)
		}
	}
	sortCycles(g.Cycles)
}

func selfReferencing(n *Node) bool {
	for _, dep := range n.Deps {
		if dep == n {
			return true
		}
	}
	return false
}

func sortCycles(cycles []*Cycle) {
	for i := 1; i < len(cycles); i++ {
		for j := i; j > 0 && cycles[j].Nodes[0].Index < cycles[j-1].Nodes[0].Index; j-- {
			cycles[j], cycles[j-1] = cycles[j-1], cycles[j]
		}
	}
}
