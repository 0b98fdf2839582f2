package transforms

import (
	"fmt"
	"math"

	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// binEpsilon absorbs floating point error when assigning values to bins.
const binEpsilon = 1e-14

// extent computes [min, max] over the numeric values of a field and
// publishes it as a signal. The table passes through unchanged.
func (r *run) extent(p params, in *table.Table) (*table.Table, error) {
	field, err := p.field("field")
	if err != nil {
		return nil, err
	}
	signal, err := p.str("signal", "")
	if err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range in.Rows {
		v := get(row, field)
		if v.IsNull() || v.Type() != cty.Number {
			continue
		}
		f := table.ToFloat(v)
		if math.IsNaN(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	ext := cty.TupleVal([]cty.Value{cty.NullVal(cty.Number), cty.NullVal(cty.Number)})
	if lo <= hi {
		ext = cty.TupleVal([]cty.Value{table.NumberVal(lo), table.NumberVal(hi)})
	}
	r.defineSignal(signal, ext)
	return in, nil
}

// binning is a resolved set of bin boundaries.
type binning struct {
	start, stop, step float64
}

type binOptions struct {
	maxbins float64
	base    float64
	divide  []float64
	minstep float64
	step    float64
	span    float64
	nice    bool
}

// computeBins chooses bin boundaries for [min, max], preferring steps that
// are powers of base divided by one of the divisors.
func computeBins(min, max float64, o binOptions) binning {
	logb := math.Log(o.base)
	span := o.span
	if span == 0 {
		span = max - min
	}
	if span == 0 {
		span = math.Abs(min)
	}
	if span == 0 {
		span = 1
	}

	step := o.step
	if step <= 0 {
		level := math.Ceil(math.Log(o.maxbins) / logb)
		step = math.Max(o.minstep, math.Pow(o.base, math.Round(math.Log(span)/logb)-level))
		for math.Ceil(span/step) > o.maxbins {
			step *= o.base
		}
		for _, d := range o.divide {
			v := step / d
			if v >= o.minstep && span/v <= o.maxbins {
				step = v
			}
		}
	}

	v := math.Log(step)
	precision := 0.0
	if v < 0 {
		precision = math.Trunc(-v/logb) + 1
	}
	eps := math.Pow(o.base, -precision-1)
	if o.nice {
		v = math.Floor(min/step+eps) * step
		if min < v {
			min = v - step
		} else {
			min = v
		}
		max = math.Ceil(max/step) * step
	}
	if max == min {
		max = min + step
	}
	return binning{start: min, stop: max, step: step}
}

// assign returns the lower boundary of the bin holding v. Values outside
// [start, stop] have no bin.
func (b binning) assign(v float64) (float64, bool) {
	if v < b.start || v > b.stop {
		return 0, false
	}
	v = math.Max(b.start, math.Min(v, b.stop-b.step))
	return b.start + b.step*math.Floor(binEpsilon+(v-b.start)/b.step), true
}

// bin discretizes a numeric field into [bin0, bin1) columns and publishes
// the chosen boundaries as a signal.
func (r *run) bin(p params, in *table.Table) (*table.Table, error) {
	field, err := p.field("field")
	if err != nil {
		return nil, err
	}
	ext, err := p.numbers("extent")
	if err != nil {
		return nil, err
	}
	if len(ext) != 2 {
		return nil, fmt.Errorf("bin extent must be two numbers, got %d", len(ext))
	}
	lo, hi := math.Min(ext[0], ext[1]), math.Max(ext[0], ext[1])

	o := binOptions{divide: []float64{5, 2}}
	if o.maxbins, err = p.number("maxbins", 20); err != nil {
		return nil, err
	}
	if o.base, err = p.number("base", 10); err != nil {
		return nil, err
	}
	if o.minstep, err = p.number("minstep", 0); err != nil {
		return nil, err
	}
	if o.step, err = p.number("step", 0); err != nil {
		return nil, err
	}
	if o.span, err = p.number("span", 0); err != nil {
		return nil, err
	}
	if o.nice, err = p.boolean("nice", true); err != nil {
		return nil, err
	}
	if p.has("divide") {
		if o.divide, err = p.numbers("divide"); err != nil {
			return nil, err
		}
	}
	if o.maxbins <= 0 || o.base <= 1 {
		return nil, fmt.Errorf("bin requires maxbins > 0 and base > 1")
	}

	as, err := p.strings("as")
	if err != nil {
		return nil, err
	}
	cols := names(as, []string{"bin0", "bin1"})
	b := computeBins(lo, hi, o)

	out := in.Derive()
	for _, c := range cols {
		out.AddColumn(c)
		out.SetTemporal(c, false)
	}
	for _, row := range in.Rows {
		next := copyRow(row, 2)
		v := get(row, field)
		b0, b1 := cty.NullVal(cty.Number), cty.NullVal(cty.Number)
		if !v.IsNull() && v.Type() == cty.Number {
			if start, ok := b.assign(table.ToFloat(v)); ok {
				b0, b1 = table.NumberVal(start), table.NumberVal(start+b.step)
			}
		}
		next[cols[0]] = b0
		next[cols[1]] = b1
		out.Rows = append(out.Rows, next)
	}

	signal, err := p.str("signal", "")
	if err != nil {
		return nil, err
	}
	r.defineSignal(signal, cty.ObjectVal(map[string]cty.Value{
		"fields": cty.TupleVal([]cty.Value{cty.StringVal(field)}),
		"fname":  cty.StringVal("bin_" + field),
		"start":  table.NumberVal(b.start),
		"step":   table.NumberVal(b.step),
		"stop":   table.NumberVal(b.stop),
	}))
	return out, nil
}
