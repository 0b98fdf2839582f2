package transforms

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/expr"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// Request is one pipeline evaluation.
type Request struct {
	Input    *table.Table
	Pipeline []*spec.Transform
	Env      *expr.Env
	// RowLimit caps the result table. Zero means unlimited.
	RowLimit int
}

// Result is the outcome of a pipeline evaluation.
type Result struct {
	Table *table.Table
	// Signals holds the values of signals defined by transforms in the
	// pipeline, by name.
	Signals map[string]cty.Value
	// Truncated is true when the row limit dropped rows; TotalRows is the
	// row count before truncation.
	Truncated bool
	TotalRows int
}

// Engine evaluates transform pipelines. It is stateless and safe for
// concurrent use.
type Engine struct{}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// run is the state of one Execute call.
type run struct {
	ctx     *hcl.EvalContext
	env     *expr.Env
	signals map[string]cty.Value
}

// Execute runs req.Pipeline over req.Input.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	current := req.Input
	if current == nil {
		current = table.New()
	}
	r := &run{
		ctx:     req.Env.EvalContext(),
		env:     req.Env,
		signals: make(map[string]cty.Value),
	}

	for i, tr := range req.Pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tr.Check(); err != nil {
			return nil, fmt.Errorf("transform %d (%s): %w", i, tr.Type, err)
		}
		next, err := r.apply(tr, current)
		if err != nil {
			return nil, fmt.Errorf("transform %d (%s): %w", i, tr.Type, err)
		}
		logger.Debug("Transform applied.", "index", i, "type", tr.Type, "rows_in", current.Len(), "rows_out", next.Len())
		current = next
	}

	res := &Result{Signals: r.signals, TotalRows: current.Len()}
	res.Table, res.Truncated = current.Truncate(req.RowLimit)
	if res.Truncated {
		logger.Debug("Result truncated.", "total_rows", res.TotalRows, "row_limit", req.RowLimit)
	}
	return res, nil
}

func (r *run) apply(tr *spec.Transform, in *table.Table) (*table.Table, error) {
	p := params{tr: tr, ctx: r.ctx}
	switch tr.Kind {
	case spec.KindFilter:
		return r.filter(tr, in)
	case spec.KindFormula:
		return r.formula(tr, p, in)
	case spec.KindExtent:
		return r.extent(p, in)
	case spec.KindAggregate:
		return aggregate(p, in)
	case spec.KindJoinAggregate:
		return joinAggregate(p, in)
	case spec.KindBin:
		return r.bin(p, in)
	case spec.KindCollect:
		return collect(p, in)
	case spec.KindProject:
		return project(p, in)
	case spec.KindTimeUnit:
		return r.timeUnit(p, in)
	case spec.KindUnknown:
		return nil, fmt.Errorf("transform type %q is not supported", tr.Type)
	}
	return nil, fmt.Errorf("unhandled transform kind %s", tr.Kind)
}

// defineSignal records a transform output signal and makes it visible to
// the remaining transforms of the pipeline.
func (r *run) defineSignal(name string, v cty.Value) {
	if name == "" {
		return
	}
	r.signals[name] = v
	r.ctx.Variables[name] = v
}
