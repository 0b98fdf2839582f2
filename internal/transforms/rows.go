package transforms

import (
	"fmt"

	"github.com/vk/pretransform/internal/expr"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
)

// filter keeps rows whose expression is truthy.
func (r *run) filter(tr *spec.Transform, in *table.Table) (*table.Table, error) {
	out := in.Derive()
	for i, row := range in.Rows {
		v, err := tr.Expr.Value(expr.WithDatum(r.ctx, in.Datum(i)))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if expr.Truthy(v) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// formula writes the expression result into a new column.
func (r *run) formula(tr *spec.Transform, p params, in *table.Table) (*table.Table, error) {
	as, err := p.str("as", "")
	if err != nil {
		return nil, err
	}
	if as == "" {
		return nil, fmt.Errorf("formula transform requires a non-empty as")
	}
	out := in.Derive()
	out.AddColumn(as)
	out.SetTemporal(as, false)
	for i, row := range in.Rows {
		v, err := tr.Expr.Value(expr.WithDatum(r.ctx, in.Datum(i)))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		next := copyRow(row, 1)
		next[as] = v
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}
