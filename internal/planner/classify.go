package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/executor"
	"github.com/vk/pretransform/internal/expr"
	"github.com/vk/pretransform/internal/graph"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/varid"
	"github.com/zclconf/go-cty/cty"
)

// State is how much of a node can be computed ahead of time. States are
// ordered from most to least evaluable.
type State int

const (
	// Evaluable nodes depend only on literals, inline data and other
	// Evaluable nodes.
	Evaluable State = iota
	// Partial nodes depend on interactive input. They are evaluated once
	// with the initial values and stay live in the rewritten chart.
	Partial
	// NotEvaluable nodes are left untouched.
	NotEvaluable
)

func (s State) String() string {
	switch s {
	case Evaluable:
		return "evaluable"
	case Partial:
		return "partial"
	case NotEvaluable:
		return "not-evaluable"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// nodeState is everything the planner learns about one node.
type nodeState struct {
	node   *graph.Node
	state  State
	reason string
	// roots are the interactive variables a Partial node depends on.
	roots []varid.Variable
	// prefix is the number of leading transforms of a Partial dataset that
	// read no interactive variable and whose input is Evaluable.
	prefix   int
	warnings []Warning

	job         *executor.Job
	value       cty.Value
	table       *table.Table
	signals     map[string]cty.Value
	prefixTable *table.Table
	truncated   bool
}

func (st *nodeState) warn(w Warning) {
	st.warnings = append(st.warnings, w)
}

// fail marks the node NotEvaluable and reports why.
func (st *nodeState) fail(message string) {
	st.state = NotEvaluable
	st.reason = message
	st.warn(Warning{Kind: KindPlanner, Vars: []varid.Variable{st.node.Variable()}, Message: message})
}

// inherit marks the node NotEvaluable because of an input, without a
// warning of its own.
func (st *nodeState) inherit(dep *graph.Node) {
	st.state = NotEvaluable
	st.reason = fmt.Sprintf("it depends on %s, which cannot be evaluated", dep.ID)
}

// inputs summarizes the states of a set of dependencies.
type inputs struct {
	state    State
	blocking *graph.Node
	roots    []varid.Variable
}

func (r *request) inputs(deps []*graph.Node) inputs {
	in := inputs{state: Evaluable}
	for _, dep := range deps {
		ds := r.state(dep)
		switch ds.state {
		case NotEvaluable:
			if in.blocking == nil {
				in.blocking = dep
			}
		case Partial:
			in.roots = mergeVars(in.roots, ds.roots)
		}
		if ds.state > in.state {
			in.state = ds.state
		}
	}
	return in
}

// classify assigns a state to every node in topological order.
func (r *request) classify(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	counts := make(map[State]int)
	for _, n := range r.order {
		st := r.state(n)
		r.classifyNode(st)
		counts[st.state]++
		if st.state != Evaluable {
			logger.Debug("Classified node.", "node", n.ID.String(), "state", st.state.String(), "reason", st.reason)
		}
	}
	logger.Debug("Classification complete.",
		"evaluable", counts[Evaluable], "partial", counts[Partial], "not_evaluable", counts[NotEvaluable])
}

func (r *request) classifyNode(st *nodeState) {
	n := st.node
	if n.Cycle != nil {
		st.fail(fmt.Sprintf("dependency cycle between %s", joinVars(graph.Variables(n.Cycle.Nodes))))
		return
	}
	if n.Region != nil {
		st.fail(fmt.Sprintf("the group mark at %s is not pre-transformed because %s", n.Region.Scope, n.Region.Reason))
		return
	}
	if err := unsupported(n); err != nil {
		st.state = NotEvaluable
		st.reason = err.Error()
		st.warn(Warning{Kind: Unsupported, Vars: []varid.Variable{n.Variable()}})
		return
	}
	if len(n.Unresolved) > 0 {
		st.fail(fmt.Sprintf("%s references undefined %s", n.ID, joinVars(n.Unresolved)))
		return
	}

	switch {
	case n.Origin == graph.OriginBuiltin:
		st.state = Evaluable
	case n.Origin == graph.OriginFacet:
		st.state = NotEvaluable
		st.reason = "faceted data is partitioned while rendering"
	case n.Origin == graph.OriginTransform:
		r.classifyOutput(st)
	case n.Data != nil:
		r.classifyData(st)
	default:
		r.classifySignal(st)
	}
}

// unsupported reports constructs that cannot be evaluated ahead of time.
func unsupported(n *graph.Node) error {
	switch {
	case n.Origin != graph.OriginDeclared:
		return nil
	case n.Data != nil:
		d := n.Data
		if d.URL != nil {
			if err := checkRowFree(d.URL.Signal); err != nil {
				return err
			}
		}
		if d.Format != nil {
			switch d.Format.Type {
			case "", "json", "csv", "tsv":
			default:
				return fmt.Errorf("data format %q is not supported", d.Format.Type)
			}
		}
		for i, tr := range d.Transforms {
			if err := tr.Check(); err != nil {
				return fmt.Errorf("transform %d: %w", i, err)
			}
		}
	case n.Signal != nil:
		if n.Signal.Interactive() {
			// Only the initial value is computed; handlers stay live.
			return checkRowFree(n.Signal.Initial())
		}
		if err := checkRowFree(n.Signal.Init); err != nil {
			return err
		}
		return checkRowFree(n.Signal.Update)
	}
	return nil
}

// checkRowFree checks an expression evaluated outside any transform, where
// no current row is bound.
func checkRowFree(e *expr.Expr) error {
	if err := spec.CheckExpr(e); err != nil {
		return err
	}
	if e != nil && e.Refs.UsesDatum {
		return fmt.Errorf("expression %q reads datum outside a transform", e.Source)
	}
	return nil
}

func (r *request) classifySignal(st *nodeState) {
	n := st.node
	s := n.Signal
	in := r.inputs(n.Deps)

	if s.Interactive() {
		switch {
		case s.Initial() == nil && !s.HasValue():
			st.state = NotEvaluable
			st.reason = "it is interactive and has no initial value"
		case in.state == NotEvaluable:
			st.inherit(in.blocking)
		default:
			st.state = Partial
			st.roots = []varid.Variable{n.Variable()}
		}
		return
	}
	r.settle(st, in)
}

func (r *request) classifyData(st *nodeState) {
	n := st.node
	d := n.Data

	base := inputs{state: Evaluable}
	if !r.registry.has(d.Name) {
		if d.URL != nil {
			if name, ok := d.URL.InlineName(); ok {
				if !r.registry.has(name) {
					st.fail(fmt.Sprintf("inline dataset %q was not provided", name))
					return
				}
			} else if r.p.fetcher == nil {
				st.fail(fmt.Sprintf("%s loads its rows from a url, and url loading is disabled", n.ID))
				return
			}
		}
		base = r.inputs(n.BaseDeps)
	}

	all := base
	prefix := -1
	for i, deps := range n.TransformDeps {
		in := r.inputs(deps)
		if in.state == Partial && prefix < 0 {
			prefix = i
		}
		if in.state > all.state {
			all.state = in.state
		}
		if all.blocking == nil {
			all.blocking = in.blocking
		}
		all.roots = mergeVars(all.roots, in.roots)
	}
	if prefix < 0 {
		prefix = len(d.Transforms)
	}

	if d.Interactive() || n.Modified {
		if all.state == NotEvaluable {
			st.inherit(all.blocking)
			return
		}
		st.state = Partial
		st.roots = []varid.Variable{n.Variable()}
		st.prefix = 0
		return
	}

	r.settle(st, all)
	if st.state == Partial && base.state == Evaluable {
		st.prefix = prefix
	}
}

// classifyOutput classifies a signal defined by a transform of its owner.
func (r *request) classifyOutput(st *nodeState) {
	n := st.node
	owner := r.state(n.Owner)
	switch owner.state {
	case NotEvaluable:
		st.inherit(n.Owner)
	case Evaluable:
		st.state = Evaluable
	case Partial:
		if n.TransformIndex < owner.prefix {
			st.state = Evaluable
			return
		}
		r.settle(st, inputs{state: Partial, roots: owner.roots})
	}
}

// settle applies the propagation rule for a non-interactive node: it is
// never more evaluable than its inputs, except that consumers of Partial
// inputs are frozen when interactivity need not be preserved.
func (r *request) settle(st *nodeState, in inputs) {
	switch in.state {
	case NotEvaluable:
		st.inherit(in.blocking)
	case Partial:
		if r.preserve {
			st.state = Partial
			st.roots = in.roots
			return
		}
		st.state = Evaluable
		st.warn(Warning{Kind: BrokenInteractivity, Vars: in.roots})
	default:
		st.state = Evaluable
	}
}

func mergeVars(into, vars []varid.Variable) []varid.Variable {
	for _, v := range vars {
		found := false
		for _, existing := range into {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			into = append(into, v)
		}
	}
	return into
}

func joinVars(vars []varid.Variable) string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}
