package graph

import (
	"encoding/json"

	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/varid"
)

// Origin records what kind of definition produced a node.
type Origin int

const (
	// OriginDeclared nodes come from a data or signals entry.
	OriginDeclared Origin = iota
	// OriginTransform signals are defined by an extent or bin transform.
	OriginTransform
	// OriginFacet datasets are the per-instance partitions of a faceted group.
	OriginFacet
	// OriginBuiltin signals are implicit top-level properties such as width.
	OriginBuiltin
)

func (o Origin) String() string {
	switch o {
	case OriginDeclared:
		return "declared"
	case OriginTransform:
		return "transform"
	case OriginFacet:
		return "facet"
	case OriginBuiltin:
		return "builtin"
	}
	return "unknown"
}

// Node is one (variable, scope) instantiation.
type Node struct {
	ID     varid.Scoped
	Index  int
	Origin Origin
	// Group is the group that owns the definition.
	Group *spec.Group

	// Data is the dataset definition for data nodes, and the owning dataset
	// for transform output signals.
	Data *spec.Data
	// Signal is the signal definition for declared signal nodes.
	Signal *spec.Signal
	// TransformIndex is the position of the defining transform for
	// OriginTransform signals.
	TransformIndex int
	// Builtin is the raw value of a builtin signal.
	Builtin json.RawMessage
	// Owner is the dataset node that defines a transform output signal.
	Owner *Node

	// Deps and Dependents are sorted by Index.
	Deps       []*Node
	Dependents []*Node
	// BaseDeps are the inputs of a dataset's base rows (sources and url).
	BaseDeps []*Node
	// TransformDeps[i] are the inputs referenced by transform i.
	TransformDeps [][]*Node

	// Unresolved lists references that no enclosing scope defines.
	Unresolved []varid.Variable
	// Modified is set on datasets that some signal handler changes with
	// modify().
	Modified bool
	// Region is set when the node lives inside a group whose instance count
	// is only known at render time.
	Region *Region
	// Cycle is set when the node is part of a dependency cycle.
	Cycle *Cycle

	deps map[*Node]struct{}
}

// Variable returns the node's unscoped variable.
func (n *Node) Variable() varid.Variable { return n.ID.Variable }

// Scope returns the node's scope.
func (n *Node) Scope() varid.Scope { return n.ID.Scope }

func (n *Node) String() string { return n.ID.String() }

// Region is a group whose instance count is decided at render time,
// together with every node defined inside it.
type Region struct {
	Group  *spec.Group
	Scope  varid.Scope
	Reason string
	Nodes  []*Node
}

// Cycle is a strongly connected component of the dependency graph.
type Cycle struct {
	Nodes []*Node
}

// Variables returns the distinct variables of nodes, in node order.
func Variables(nodes []*Node) []varid.Variable {
	seen := make(map[varid.Variable]struct{}, len(nodes))
	var out []varid.Variable
	for _, n := range nodes {
		if _, ok := seen[n.ID.Variable]; ok {
			continue
		}
		seen[n.ID.Variable] = struct{}{}
		out = append(out, n.ID.Variable)
	}
	return out
}

// Graph is the arena of nodes built from one chart. It is immutable after
// Build returns and safe for concurrent reads.
type Graph struct {
	// Nodes is the arena in declaration order; Node.Index is the position.
	Nodes   []*Node
	Regions []*Region
	Cycles  []*Cycle
	// Duplicates are definitions shadowed by an earlier definition of the
	// same variable in the same scope.
	Duplicates []varid.Scoped

	index   map[string]*Node
	defined map[varid.Variable]struct{}
}

// Lookup returns the node for an exact (variable, scope) pair.
func (g *Graph) Lookup(id varid.Scoped) (*Node, bool) {
	n, ok := g.index[id.Key()]
	return n, ok
}

// Defines reports whether the variable is defined in any scope.
func (g *Graph) Defines(v varid.Variable) bool {
	_, ok := g.defined[v]
	return ok
}

// Resolve finds the definition of v visible from scope, walking outward to
// the top level.
func (g *Graph) Resolve(v varid.Variable, scope varid.Scope) (*Node, bool) {
	s := scope
	for {
		if n, ok := g.index[varid.NewScoped(v, s).Key()]; ok {
			return n, true
		}
		if len(s) == 0 {
			return nil, false
		}
		s = s.Parent()
	}
}
