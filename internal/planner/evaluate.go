package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/executor"
	"github.com/vk/pretransform/internal/expr"
	"github.com/vk/pretransform/internal/graph"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/transforms"
	"github.com/vk/pretransform/internal/varid"
	"github.com/zclconf/go-cty/cty"
)

// evaluate computes every Evaluable or Partial node among nodes, which must
// be closed under dependencies and in topological order. Nodes whose
// evaluation does not complete are downgraded to NotEvaluable.
func (r *request) evaluate(ctx context.Context, nodes []*graph.Node) {
	logger := ctxlog.FromContext(ctx)

	var jobs []*executor.Job
	for _, n := range nodes {
		st := r.state(n)
		if st.state == NotEvaluable {
			continue
		}
		var deps []*executor.Job
		for _, dep := range n.Deps {
			if j := r.state(dep).job; j != nil {
				deps = append(deps, j)
			}
		}
		prefix := 0
		if st.state == Partial {
			prefix = st.prefix
		}
		st.job = executor.NewJob(n.ID.String(), func(ctx context.Context) error {
			return r.evalNode(ctx, st, prefix)
		}, deps...)
		jobs = append(jobs, st.job)
	}
	logger.Debug("Evaluating nodes.", "jobs", len(jobs))

	runErr := r.p.pool.Run(ctx, jobs)
	if runErr != nil {
		logger.Warn("Evaluation did not finish.", "error", runErr)
	}

	for _, n := range nodes {
		st := r.state(n)
		if st.job == nil {
			continue
		}
		switch st.job.State() {
		case executor.Done:
			continue
		case executor.Failed:
			st.warn(Warning{
				Kind:    KindPlanner,
				Vars:    []varid.Variable{n.Variable()},
				Message: fmt.Sprintf("failed to evaluate %s: %v", n.ID, st.job.Err()),
			})
			st.reason = st.job.Err().Error()
		case executor.Abandoned:
			msg := "evaluation was cancelled before it finished"
			if errors.Is(st.job.Err(), context.DeadlineExceeded) {
				msg = fmt.Sprintf("evaluation did not finish within %s", r.p.timeout)
			}
			st.warn(Warning{Kind: KindPlanner, Vars: []varid.Variable{n.Variable()}, Message: msg})
			st.reason = msg
		default:
			st.reason = "it was not evaluated"
			if err := st.job.Err(); err != nil {
				st.reason = err.Error()
			}
		}
		st.state = NotEvaluable
	}
}

// evalNode runs on a worker. It writes only to st's result fields and reads
// results of dependencies that are already Done.
func (r *request) evalNode(ctx context.Context, st *nodeState, prefix int) error {
	n := st.node
	switch {
	case n.Origin == graph.OriginBuiltin:
		v, err := table.ValueFromJSON(n.Builtin)
		if err != nil {
			return err
		}
		st.value = v
		return nil
	case n.Origin == graph.OriginTransform:
		v, ok := r.state(n.Owner).signals[n.ID.Name]
		if !ok {
			v = cty.NullVal(cty.DynamicPseudoType)
		}
		st.value = v
		return nil
	case n.Data != nil:
		return r.evalData(ctx, st, prefix)
	default:
		return r.evalSignal(st)
	}
}

// env exposes the values of a node's dependencies to expressions.
func (r *request) env(n *graph.Node) *expr.Env {
	now := r.now
	env := &expr.Env{
		Signals: make(map[string]cty.Value),
		Data:    make(map[string]cty.Value),
		LocalTZ: r.local,
		InputTZ: r.input,
		Now:     func() time.Time { return now },
	}
	for _, dep := range n.Deps {
		ds := r.state(dep)
		switch dep.ID.Namespace {
		case varid.Signal:
			env.Signals[dep.ID.Name] = ds.value
		case varid.Data:
			if ds.table != nil {
				env.Data[dep.ID.Name] = ds.table.Value()
			}
		}
	}
	return env
}

func (r *request) evalSignal(st *nodeState) error {
	s := st.node.Signal
	if e := s.Initial(); e != nil {
		v, err := e.Value(r.env(st.node).EvalContext())
		if err != nil {
			return err
		}
		st.value = v
		return nil
	}
	st.value = cty.NullVal(cty.DynamicPseudoType)
	if s.HasValue() {
		v, err := table.ValueFromJSON(s.Value)
		if err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		st.value = v
	}
	return nil
}

// computes reports whether a dataset is more than its literal values. Only
// such datasets are truncated and rewritten.
func (r *request) computes(n *graph.Node) bool {
	d := n.Data
	return len(d.Transforms) > 0 || len(d.Source) > 0 || d.URL != nil || r.registry.has(d.Name)
}

// evalData computes a dataset. A positive prefix also records the result of
// the first prefix transforms in st.prefixTable.
func (r *request) evalData(ctx context.Context, st *nodeState, prefix int) error {
	n := st.node
	env := r.env(n)
	input, err := r.baseTable(ctx, n, env)
	if err != nil {
		return err
	}

	limit := 0
	if r.computes(n) {
		limit = r.rowLimit
	}
	pipeline := n.Data.Transforms
	st.signals = make(map[string]cty.Value)

	if prefix > 0 {
		pre, err := r.p.engine.Execute(ctx, transforms.Request{Input: input, Pipeline: pipeline[:prefix], Env: env})
		if err != nil {
			return err
		}
		for name, v := range pre.Signals {
			st.signals[name] = v
			env.Signals[name] = v
		}
		var truncated bool
		st.prefixTable, truncated = pre.Table.Truncate(limit)
		st.truncated = st.truncated || truncated
		input = pre.Table
		pipeline = pipeline[prefix:]
	}

	res, err := r.p.engine.Execute(ctx, transforms.Request{Input: input, Pipeline: pipeline, Env: env, RowLimit: limit})
	if err != nil {
		return err
	}
	for name, v := range res.Signals {
		st.signals[name] = v
	}
	st.table = res.Table
	st.truncated = st.truncated || res.Truncated
	return nil
}

// baseTable produces a dataset's rows before its transforms run.
func (r *request) baseTable(ctx context.Context, n *graph.Node, env *expr.Env) (*table.Table, error) {
	d := n.Data
	if t, ok := r.registry.lookup(d.Name); ok {
		return t, nil
	}

	var t *table.Table
	switch {
	case d.URL != nil:
		if name, ok := d.URL.InlineName(); ok {
			t, _ = r.registry.lookup(name)
			return t, nil
		}
		u := d.URL.Literal
		if d.URL.Signal != nil {
			v, err := d.URL.Signal.Value(env.EvalContext())
			if err != nil {
				return nil, err
			}
			if v.IsNull() || v.Type() != cty.String {
				return nil, fmt.Errorf("url expression %q did not produce a string", d.URL.Signal.Source)
			}
			u = v.AsString()
		}
		fetched, err := r.p.fetcher.Fetch(ctx, u, d.Format)
		if err != nil {
			return nil, err
		}
		t = fetched
	case len(d.Source) > 0:
		var parts []*table.Table
		for _, dep := range n.BaseDeps {
			if dep.ID.Namespace == varid.Data {
				parts = append(parts, r.state(dep).table)
			}
		}
		return table.Concat(parts...), nil
	case d.HasValues():
		values, err := table.FromJSON(d.Values)
		if err != nil {
			return nil, fmt.Errorf("invalid values: %w", err)
		}
		t = values
	default:
		return table.New(), nil
	}

	if d.Format != nil {
		return table.ApplyParse(t, d.Format.Parse, r.input)
	}
	return t, nil
}
