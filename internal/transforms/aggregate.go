package transforms

import (
	"fmt"
	"math"
	"strings"

	"github.com/aclements/go-moremath/stats"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// measure is one (op, field) pair of an aggregate and its output column.
type measure struct {
	op    string
	field string
	as    string
}

// cell accumulates the rows of one group.
type cell struct {
	key  []cty.Value
	rows []map[string]cty.Value
}

func measures(p params) ([]measure, error) {
	fields, err := p.fields("fields")
	if err != nil {
		return nil, err
	}
	ops, err := p.strings("ops")
	if err != nil {
		return nil, err
	}
	as, err := p.strings("as")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 && len(ops) == 0 {
		ops = []string{"count"}
		fields = []string{""}
	}
	if len(ops) != len(fields) {
		if len(fields) == 0 {
			fields = make([]string, len(ops))
		} else {
			return nil, fmt.Errorf("aggregate has %d fields but %d ops", len(fields), len(ops))
		}
	}
	out := make([]measure, len(ops))
	for i, op := range ops {
		if !spec.SupportedAggregateOps[op] {
			return nil, fmt.Errorf("aggregate operation %q is not supported", op)
		}
		name := op
		if fields[i] != "" {
			name = op + "_" + fields[i]
		}
		if i < len(as) && as[i] != "" {
			name = as[i]
		}
		out[i] = measure{op: op, field: fields[i], as: name}
	}
	return out, nil
}

// group partitions rows by the groupby fields, keeping first-seen order.
// The second result maps each input row to its cell.
func group(in *table.Table, groupby []string) ([]*cell, []int) {
	var cells []*cell
	index := make(map[string]int)
	assign := make([]int, len(in.Rows))
	for r, row := range in.Rows {
		key := make([]cty.Value, len(groupby))
		var sb strings.Builder
		for i, g := range groupby {
			key[i] = get(row, g)
			sb.WriteString(table.Key(key[i]))
			sb.WriteByte(0)
		}
		ci, ok := index[sb.String()]
		if !ok {
			ci = len(cells)
			index[sb.String()] = ci
			cells = append(cells, &cell{key: key})
		}
		cells[ci].rows = append(cells[ci].rows, row)
		assign[r] = ci
	}
	return cells, assign
}

// aggregate collapses each group to one row of groupby values and measures.
func aggregate(p params, in *table.Table) (*table.Table, error) {
	groupby, err := p.fields("groupby")
	if err != nil {
		return nil, err
	}
	ms, err := measures(p)
	if err != nil {
		return nil, err
	}

	out := table.New(groupby...)
	for _, g := range groupby {
		if in.Temporal[g] {
			out.SetTemporal(g, true)
		}
	}
	for _, m := range ms {
		out.AddColumn(m.as)
		out.SetTemporal(m.as, m.temporal(in))
	}
	cells, _ := group(in, groupby)
	for _, c := range cells {
		row := make(map[string]cty.Value, len(groupby)+len(ms))
		for i, g := range groupby {
			row[g] = c.key[i]
		}
		for _, m := range ms {
			row[m.as] = m.compute(c.rows)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// joinAggregate computes the same measures as aggregate but writes them
// onto every row of each group.
func joinAggregate(p params, in *table.Table) (*table.Table, error) {
	groupby, err := p.fields("groupby")
	if err != nil {
		return nil, err
	}
	ms, err := measures(p)
	if err != nil {
		return nil, err
	}

	out := in.Derive()
	for _, m := range ms {
		out.AddColumn(m.as)
		out.SetTemporal(m.as, m.temporal(in))
	}
	cells, assign := group(in, groupby)
	computed := make([]map[string]cty.Value, len(cells))
	for i, c := range cells {
		computed[i] = make(map[string]cty.Value, len(ms))
		for _, m := range ms {
			computed[i][m.as] = m.compute(c.rows)
		}
	}
	for r, row := range in.Rows {
		next := copyRow(row, len(ms))
		for k, v := range computed[assign[r]] {
			next[k] = v
		}
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}

// temporal reports whether the measure preserves a timestamp column.
func (m measure) temporal(in *table.Table) bool {
	return (m.op == "min" || m.op == "max") && in.Temporal[m.field]
}

// compute evaluates the measure over the rows of one group.
func (m measure) compute(rows []map[string]cty.Value) cty.Value {
	switch m.op {
	case "count":
		return cty.NumberIntVal(int64(len(rows)))
	case "distinct":
		seen := make(map[string]struct{})
		for _, row := range rows {
			seen[table.Key(get(row, m.field))] = struct{}{}
		}
		return cty.NumberIntVal(int64(len(seen)))
	}

	var xs []float64
	valid, missing := 0, 0
	for _, row := range rows {
		v := get(row, m.field)
		if v.IsNull() {
			missing++
			continue
		}
		if v.Type() == cty.Number {
			f := table.ToFloat(v)
			if math.IsNaN(f) {
				continue
			}
			xs = append(xs, f)
		}
		valid++
	}

	sample := stats.Sample{Xs: xs}
	switch m.op {
	case "valid":
		return cty.NumberIntVal(int64(valid))
	case "missing":
		return cty.NumberIntVal(int64(missing))
	case "sum":
		return table.NumberVal(sample.Sum())
	case "mean", "average":
		return table.NumberVal(sample.Mean())
	case "min":
		lo, _ := sample.Bounds()
		return table.NumberVal(lo)
	case "max":
		_, hi := sample.Bounds()
		return table.NumberVal(hi)
	}

	n := float64(len(xs))
	if len(xs) < 2 {
		return cty.NullVal(cty.Number)
	}
	switch m.op {
	case "variance":
		return table.NumberVal(sample.Variance())
	case "variancep":
		return table.NumberVal(sample.Variance() * (n - 1) / n)
	case "stdev":
		return table.NumberVal(sample.StdDev())
	case "stdevp":
		return table.NumberVal(math.Sqrt(sample.Variance() * (n - 1) / n))
	}
	return cty.NullVal(cty.DynamicPseudoType)
}
