package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/graph"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/varid"
)

const initialValueMessage = "some variables depend on interactive input; their initial values were returned"

// PreTransformValues evaluates the requested variables. The response holds
// exactly one value per request entry, in order.
func (p *Planner) PreTransformValues(ctx context.Context, req ValuesRequest) (*ValuesResponse, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	vars := req.Opts.Variables

	r, err := p.prepare(ctx, requestOptions{
		text:     req.Spec,
		localTZ:  req.LocalTZ,
		inputTZ:  req.DefaultInputTZ,
		rowLimit: req.Opts.RowLimit,
		inline:   req.Opts.InlineDatasets,
		preserve: true,
	})
	if err != nil {
		logger.Warn("Failed to load chart.", "error", err)
		values := make([]ResponseValue, len(vars))
		for i, v := range vars {
			values[i] = ResponseValue{Variable: v.Variable, Scope: v.Scope, Value: placeholder(v.Variable)}
		}
		return &ValuesResponse{Values: values, Warnings: []Warning{plannerWarning("failed to parse spec: %v", err)}}, nil
	}

	nodes := make([]*graph.Node, len(vars))
	var found []*graph.Node
	for i, v := range vars {
		if n, ok := r.graph.Lookup(varid.NewScoped(v.Variable, v.Scope)); ok {
			nodes[i] = n
			found = append(found, n)
		}
	}
	needed := r.graph.Ancestors(found)

	r.classify(ctx)
	r.evaluate(ctx, needed)
	for _, n := range needed {
		if n.ID.Namespace == varid.Data {
			r.flagTruncated(r.state(n))
		}
	}

	// A variable joins at most one planner entry, so requested variables
	// are added before the warnings of their ancestors.
	values := make([]ResponseValue, len(vars))
	for i, v := range vars {
		value, w := r.extract(v, nodes[i])
		values[i] = ResponseValue{Variable: v.Variable, Scope: v.Scope, Value: value}
		if w != nil {
			r.warnings.add(*w)
		}
	}
	r.collect(needed)

	warnings := r.warnings.list()
	logger.Info("PreTransformValues complete.",
		"requested", len(vars), "evaluated", len(needed), "warnings", len(warnings), "duration", time.Since(start))
	return &ValuesResponse{Values: values, Warnings: warnings}, nil
}

// extract returns the value of one requested variable and, when it is not
// the fully evaluated value, a warning describing why.
func (r *request) extract(req VariableRequest, n *graph.Node) (Value, *Warning) {
	id := varid.NewScoped(req.Variable, req.Scope)
	if n == nil {
		if !r.graph.Defines(req.Variable) {
			w := plannerWarning("%s is not defined", req.Variable)
			return placeholder(req.Variable), &w
		}
		return placeholder(req.Variable), &Warning{
			Kind:    KindPlanner,
			Vars:    []varid.Variable{req.Variable},
			Message: fmt.Sprintf("%s has no instance at scope %s", req.Variable, scopeString(req.Scope)),
		}
	}

	st := r.state(n)
	switch st.state {
	case Evaluable:
		return r.current(st), nil
	case Partial:
		return r.current(st), &Warning{Kind: KindPlanner, Vars: []varid.Variable{n.Variable()}, Message: initialValueMessage}
	}
	return r.bestAvailable(n), &Warning{
		Kind:    KindPlanner,
		Vars:    []varid.Variable{n.Variable()},
		Message: fmt.Sprintf("%s cannot be evaluated: %s", id, st.reason),
	}
}

func (r *request) current(st *nodeState) Value {
	if st.node.ID.Namespace == varid.Data {
		if st.table == nil {
			return TableValue(table.New())
		}
		return TableValue(st.table)
	}
	return ScalarValue(st.value)
}

// bestAvailable is the value of a NotEvaluable variable: a signal's literal
// value, a dataset's literal values or the nearest evaluated source
// ancestor, or else a placeholder.
func (r *request) bestAvailable(n *graph.Node) Value {
	if n.Signal != nil && n.Signal.HasValue() {
		if v, err := table.ValueFromJSON(n.Signal.Value); err == nil {
			return ScalarValue(v)
		}
	}
	if n.ID.Namespace != varid.Data || n.Data == nil {
		return placeholder(n.Variable())
	}
	if n.Data.HasValues() {
		if t, err := table.FromJSON(n.Data.Values); err == nil {
			return TableValue(t)
		}
	}

	visited := map[*graph.Node]bool{n: true}
	queue := append([]*graph.Node(nil), n.BaseDeps...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if visited[dep] || dep.ID.Namespace != varid.Data {
			continue
		}
		visited[dep] = true
		if ds := r.state(dep); ds.state != NotEvaluable && ds.table != nil {
			return TableValue(ds.table)
		}
		queue = append(queue, dep.BaseDeps...)
	}
	return placeholder(n.Variable())
}

func scopeString(s varid.Scope) string {
	if len(s) == 0 {
		return "[]"
	}
	return s.String()
}
