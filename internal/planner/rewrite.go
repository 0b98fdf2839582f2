package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/graph"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/varid"
)

// PreTransformSpec rewrites the chart so that everything that can be
// computed ahead of time is embedded as literal data.
func (p *Planner) PreTransformSpec(ctx context.Context, req SpecRequest) (*SpecResponse, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	preserve := true
	if req.Opts.PreserveInteractivity != nil {
		preserve = *req.Opts.PreserveInteractivity
	}
	r, err := p.prepare(ctx, requestOptions{
		text:     req.Spec,
		localTZ:  req.LocalTZ,
		rowLimit: req.Opts.RowLimit,
		inline:   req.Opts.InlineDatasets,
		preserve: preserve,
	})
	if err != nil {
		logger.Warn("Failed to load chart.", "error", err)
		return &SpecResponse{Warnings: []Warning{plannerWarning("failed to parse spec: %v", err)}}, nil
	}

	render := table.RenderOptions{}
	if req.OutputTZ != nil {
		if loc, err := time.LoadLocation(*req.OutputTZ); err != nil {
			r.warnings.add(plannerWarning("output timezone %q is not valid; timestamps are embedded as epoch milliseconds", *req.OutputTZ))
		} else {
			render.OutputTZ = loc
		}
	}

	r.classify(ctx)
	r.evaluate(ctx, r.order)
	rewritten := r.rewrite(ctx, render)
	r.collect(r.order)

	out, err := r.chart.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode rewritten chart: %w", err)
	}
	warnings := r.warnings.list()
	logger.Info("PreTransformSpec complete.",
		"nodes", len(r.graph.Nodes), "rewritten", rewritten, "warnings", len(warnings), "duration", time.Since(start))
	return &SpecResponse{Spec: string(out), Warnings: warnings}, nil
}

// rewrite embeds evaluated results into the chart and returns how many
// nodes changed it.
func (r *request) rewrite(ctx context.Context, render table.RenderOptions) int {
	logger := ctxlog.FromContext(ctx)
	appended := make(map[*spec.Group]map[string]bool)
	count := 0

	for _, n := range r.order {
		st := r.state(n)
		if st.state == NotEvaluable || n.Origin != graph.OriginDeclared {
			continue
		}
		var err error
		changed := false
		if n.Data != nil {
			changed, err = r.rewriteData(st, render, appended)
		} else {
			changed, err = r.rewriteSignal(st)
		}
		if err != nil {
			st.warn(Warning{
				Kind:    KindPlanner,
				Vars:    []varid.Variable{n.Variable()},
				Message: fmt.Sprintf("failed to embed %s: %v", n.ID, err),
			})
			continue
		}
		if changed {
			count++
			logger.Debug("Rewrote node.", "node", n.ID.String(), "state", st.state.String())
		}
	}
	return count
}

func (r *request) rewriteData(st *nodeState, render table.RenderOptions, appended map[*spec.Group]map[string]bool) (bool, error) {
	n := st.node
	d := n.Data

	var rows *table.Table
	keep := len(d.Transforms)
	switch {
	case st.state == Evaluable && r.computes(n):
		rows = st.table
	case st.state == Partial && st.prefix > 0 && st.prefixTable != nil:
		rows = st.prefixTable
		keep = st.prefix
	default:
		r.flagTruncated(st)
		return false, nil
	}

	raw, err := rows.JSON(render)
	if err != nil {
		return false, err
	}
	if err := d.Inline(raw, keep); err != nil {
		return false, err
	}
	r.flagTruncated(st)

	// Signals defined by the removed transforms become literal signals.
	names := appended[n.Group]
	if names == nil {
		names = make(map[string]bool)
		appended[n.Group] = names
	}
	for i, tr := range d.Transforms[:keep] {
		for _, name := range tr.OutputSignals() {
			if names[name] || n.Group.HasSignal(name) {
				continue
			}
			v, ok := st.signals[name]
			if !ok {
				return true, fmt.Errorf("transform %d did not produce signal %q", i, name)
			}
			value, err := table.ValueToJSON(v)
			if err != nil {
				return true, err
			}
			if err := n.Group.AppendSignal(name, value); err != nil {
				return true, err
			}
			names[name] = true
		}
	}
	return true, nil
}

func (r *request) flagTruncated(st *nodeState) {
	if st.state != NotEvaluable && st.truncated {
		st.warn(Warning{Kind: RowLimit, Vars: []varid.Variable{st.node.Variable()}})
	}
}

func (r *request) rewriteSignal(st *nodeState) (bool, error) {
	s := st.node.Signal
	if s.Initial() == nil {
		return false, nil
	}
	raw, err := table.ValueToJSON(st.value)
	if err != nil {
		return false, err
	}
	// Partial signals keep their live definition; only the hint changes.
	if err := s.SetValue(raw, st.state == Partial); err != nil {
		return false, err
	}
	return true, nil
}
