package graph

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/expr"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/varid"
)

// builtinDefaults are the values of builtin signals a chart does not set.
var builtinDefaults = []struct {
	name  string
	value json.RawMessage
}{
	{"width", json.RawMessage(`0`)},
	{"height", json.RawMessage(`0`)},
	{"padding", json.RawMessage(`0`)},
	{"autosize", json.RawMessage(`"pad"`)},
	{"background", json.RawMessage(`null`)},
}

type builder struct {
	g      *Graph
	facets map[*Node]*spec.Facet
}

// Build expands the chart's group structure into a dependency graph.
func Build(ctx context.Context, chart *spec.Chart) *Graph {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.")

	b := &builder{
		g: &Graph{
			index:   make(map[string]*Node),
			defined: make(map[varid.Variable]struct{}),
		},
		facets: make(map[*Node]*spec.Facet),
	}

	// First pass: one node per definition.
	b.declareGroup(chart.Root, varid.Scope{}, nil)
	b.declareBuiltins(chart)
	logger.Debug("Build: Node creation complete.", "node_count", len(b.g.Nodes))

	// Second pass: resolve references into edges.
	for _, n := range b.g.Nodes {
		b.link(n)
	}
	for _, n := range b.g.Nodes {
		sortNodes(n.Deps)
		sortNodes(n.Dependents)
		n.deps = nil
	}
	logger.Debug("Build: Node linking complete.")

	b.g.findCycles()
	logger.Debug("Build: Graph construction successful.",
		"cycles", len(b.g.Cycles), "dynamic_regions", len(b.g.Regions))
	return b.g
}

func (b *builder) add(n *Node, region *Region) *Node {
	key := n.ID.Key()
	if _, exists := b.g.index[key]; exists {
		b.g.Duplicates = append(b.g.Duplicates, n.ID)
		return nil
	}
	n.Index = len(b.g.Nodes)
	n.Region = region
	n.deps = make(map[*Node]struct{})
	b.g.Nodes = append(b.g.Nodes, n)
	b.g.index[key] = n
	b.g.defined[n.ID.Variable] = struct{}{}
	if region != nil {
		region.Nodes = append(region.Nodes, n)
	}
	return n
}

func (b *builder) declareGroup(g *spec.Group, scope varid.Scope, region *Region) {
	if g.Dynamic && region == nil && len(scope) > 0 {
		reason := "its instances come from data"
		if g.Facet != nil {
			reason = "it is faceted"
		}
		region = &Region{Group: g, Scope: scope.Clone(), Reason: reason}
		b.g.Regions = append(b.g.Regions, region)
	}

	if g.Facet != nil && g.Facet.Name != "" {
		n := b.add(&Node{
			ID:     varid.NewScoped(varid.NewData(g.Facet.Name), scope),
			Origin: OriginFacet,
			Group:  g,
		}, region)
		if n != nil {
			b.facets[n] = g.Facet
		}
	}
	for _, s := range g.Signals {
		if s.PushOuter {
			continue
		}
		b.add(&Node{
			ID:     varid.NewScoped(varid.NewSignal(s.Name), scope),
			Origin: OriginDeclared,
			Group:  g,
			Signal: s,
		}, region)
	}
	for _, d := range g.Data {
		owner := b.add(&Node{
			ID:     varid.NewScoped(varid.NewData(d.Name), scope),
			Origin: OriginDeclared,
			Group:  g,
			Data:   d,
		}, region)
		if owner == nil {
			continue
		}
		for i, tr := range d.Transforms {
			for _, name := range tr.OutputSignals() {
				b.add(&Node{
					ID:             varid.NewScoped(varid.NewSignal(name), scope),
					Origin:         OriginTransform,
					Group:          g,
					Data:           d,
					TransformIndex: i,
					Owner:          owner,
				}, region)
			}
		}
	}
	for i, child := range g.Groups {
		b.declareGroup(child, scope.Child(i), region)
	}
}

// declareBuiltins adds implicit top-level signals that the chart does not
// declare itself.
func (b *builder) declareBuiltins(chart *spec.Chart) {
	for _, def := range builtinDefaults {
		value := def.value
		if raw, ok := chart.Builtins[def.name]; ok {
			value = raw
		}
		b.add(&Node{
			ID:      varid.NewScoped(varid.NewSignal(def.name), varid.Scope{}),
			Origin:  OriginBuiltin,
			Group:   chart.Root,
			Builtin: value,
		}, nil)
	}
	// A declared root signal shadows the builtin; that is not a duplicate.
	kept := b.g.Duplicates[:0]
	for _, d := range b.g.Duplicates {
		if d.Namespace == varid.Signal && len(d.Scope) == 0 && isBuiltin(d.Name) {
			if n, ok := b.g.Lookup(d); ok && n.Origin != OriginBuiltin {
				continue
			}
		}
		kept = append(kept, d)
	}
	b.g.Duplicates = kept
}

func isBuiltin(name string) bool {
	for _, def := range builtinDefaults {
		if def.name == name {
			return true
		}
	}
	return false
}

func (b *builder) link(n *Node) {
	scope := n.Scope()
	switch n.Origin {
	case OriginBuiltin:
	case OriginFacet:
		if f := b.facets[n]; f != nil && f.Data != "" && len(scope) > 0 {
			if dep := b.resolve(n, varid.NewData(f.Data), scope.Parent()); dep != nil {
				b.edge(dep, n)
			}
		}
	case OriginTransform:
		b.edge(n.Owner, n)
	case OriginDeclared:
		if n.Data != nil {
			b.linkData(n)
		} else {
			b.linkSignal(n)
		}
	}
}

func (b *builder) linkData(n *Node) {
	d := n.Data
	scope := n.Scope()
	for _, src := range d.Source {
		if dep := b.resolve(n, varid.NewData(src), scope); dep != nil {
			n.BaseDeps = appendUnique(n.BaseDeps, dep)
			b.edge(dep, n)
		}
	}
	if d.URL != nil && d.URL.Signal != nil {
		for _, dep := range b.exprDeps(n, d.URL.Signal, nil) {
			n.BaseDeps = appendUnique(n.BaseDeps, dep)
			b.edge(dep, n)
		}
	}

	own := make(map[string]bool)
	for _, tr := range d.Transforms {
		for _, name := range tr.OutputSignals() {
			own[name] = true
		}
	}
	n.TransformDeps = make([][]*Node, len(d.Transforms))
	for i, tr := range d.Transforms {
		for _, e := range tr.Exprs() {
			for _, dep := range b.exprDeps(n, e, own) {
				n.TransformDeps[i] = appendUnique(n.TransformDeps[i], dep)
				b.edge(dep, n)
			}
		}
	}
}

func (b *builder) linkSignal(n *Node) {
	s := n.Signal
	for _, e := range []*expr.Expr{s.Init, s.Update} {
		if e == nil {
			continue
		}
		for _, dep := range b.exprDeps(n, e, nil) {
			b.edge(dep, n)
		}
		b.markModified(n, e)
	}
	for _, h := range s.Handlers {
		if h.Update != nil {
			b.markModified(n, h.Update)
		}
	}
}

// markModified flags datasets that e changes through modify().
func (b *builder) markModified(n *Node, e *expr.Expr) {
	for _, name := range e.Refs.Modifies {
		if target, ok := b.g.Resolve(varid.NewData(name), n.Scope()); ok {
			target.Modified = true
		}
	}
}

// exprDeps resolves the signals and datasets an expression reads. Names in
// skip are produced inside the consuming node itself.
func (b *builder) exprDeps(n *Node, e *expr.Expr, skip map[string]bool) []*Node {
	if e == nil {
		return nil
	}
	var out []*Node
	for _, name := range e.Refs.Signals {
		if skip[name] {
			continue
		}
		if dep := b.resolve(n, varid.NewSignal(name), n.Scope()); dep != nil {
			out = append(out, dep)
		}
	}
	for _, name := range e.Refs.Data {
		if dep := b.resolve(n, varid.NewData(name), n.Scope()); dep != nil {
			out = append(out, dep)
		}
	}
	return out
}

func (b *builder) resolve(n *Node, v varid.Variable, scope varid.Scope) *Node {
	dep, ok := b.g.Resolve(v, scope)
	if !ok {
		for _, u := range n.Unresolved {
			if u == v {
				return nil
			}
		}
		n.Unresolved = append(n.Unresolved, v)
		return nil
	}
	return dep
}

// edge records that to consumes from.
func (b *builder) edge(from, to *Node) {
	if _, ok := to.deps[from]; ok {
		return
	}
	to.deps[from] = struct{}{}
	to.Deps = append(to.Deps, from)
	from.Dependents = append(from.Dependents, to)
}

func appendUnique(nodes []*Node, n *Node) []*Node {
	for _, existing := range nodes {
		if existing == n {
			return nodes
		}
	}
	return append(nodes, n)
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
}
