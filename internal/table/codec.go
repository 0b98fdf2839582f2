package table

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zclconf/go-cty/cty"
)

// wireTable is the columnar payload layout. Data is column-major: Data[i]
// holds every value of Columns[i].
type wireTable struct {
	Columns  []string `msgpack:"columns"`
	Data     [][]any  `msgpack:"data"`
	Temporal []string `msgpack:"temporal,omitempty"`
}

// Codec encodes and decodes inline dataset payloads.
type Codec struct{}

// Decode implements the planner's table decoder.
func (Codec) Decode(payload []byte) (*Table, error) {
	return Decode(payload)
}

// Encode serializes a table into the columnar msgpack payload.
func Encode(t *Table) ([]byte, error) {
	w := wireTable{Columns: append([]string(nil), t.Columns...)}
	for _, c := range t.Columns {
		col := make([]any, len(t.Rows))
		for i, row := range t.Rows {
			v, ok := row[c]
			if !ok {
				continue
			}
			native, err := toNative(v)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", c, i, err)
			}
			col[i] = native
		}
		w.Data = append(w.Data, col)
	}
	for c, ok := range t.Temporal {
		if ok {
			w.Temporal = append(w.Temporal, c)
		}
	}
	sort.Strings(w.Temporal)
	return msgpack.Marshal(&w)
}

// Decode parses a columnar msgpack payload. time.Time values (msgpack's
// timestamp extension) become epoch milliseconds in a temporal column.
func Decode(payload []byte) (*Table, error) {
	var w wireTable
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("invalid table payload: %w", err)
	}
	if len(w.Data) != len(w.Columns) {
		return nil, fmt.Errorf("invalid table payload: %d columns but %d data arrays", len(w.Columns), len(w.Data))
	}
	n := 0
	for i, col := range w.Data {
		if i == 0 {
			n = len(col)
		} else if len(col) != n {
			return nil, fmt.Errorf("invalid table payload: column %q has %d values, expected %d", w.Columns[i], len(col), n)
		}
	}

	t := New(w.Columns...)
	for _, c := range w.Temporal {
		t.SetTemporal(c, true)
	}
	t.Rows = make([]map[string]cty.Value, n)
	for r := 0; r < n; r++ {
		t.Rows[r] = make(map[string]cty.Value, len(w.Columns))
	}
	for ci, c := range w.Columns {
		for r, raw := range w.Data[ci] {
			v, temporal, err := fromNative(raw)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", c, r, err)
			}
			if temporal {
				t.SetTemporal(c, true)
			}
			t.Rows[r][c] = v
		}
	}
	return t, nil
}

func toNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for k, el := range v.AsValueMap() {
			n, err := toNative(el)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case ty.IsTupleType() || ty.IsCollectionType():
		out := make([]any, 0, v.LengthInt())
		for _, el := range v.AsValueSlice() {
			n, err := toNative(el)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

func fromNative(raw any) (cty.Value, bool, error) {
	switch x := raw.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), false, nil
	case bool:
		return cty.BoolVal(x), false, nil
	case string:
		return cty.StringVal(x), false, nil
	case time.Time:
		return cty.NumberIntVal(x.UnixMilli()), true, nil
	case float32:
		return NumberVal(float64(x)), false, nil
	case float64:
		return NumberVal(x), false, nil
	case []any:
		if len(x) == 0 {
			return cty.EmptyTupleVal, false, nil
		}
		els := make([]cty.Value, len(x))
		for i, el := range x {
			v, _, err := fromNative(el)
			if err != nil {
				return cty.NilVal, false, err
			}
			els[i] = v
		}
		return cty.TupleVal(els), false, nil
	case map[string]any:
		if len(x) == 0 {
			return cty.EmptyObjectVal, false, nil
		}
		attrs := make(map[string]cty.Value, len(x))
		for k, el := range x {
			v, _, err := fromNative(el)
			if err != nil {
				return cty.NilVal, false, err
			}
			attrs[k] = v
		}
		return cty.ObjectVal(attrs), false, nil
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cty.NumberIntVal(rv.Int()), false, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return cty.NumberUIntVal(u), false, nil
		}
		return cty.NumberIntVal(int64(u)), false, nil
	}
	return cty.NilVal, false, fmt.Errorf("unsupported payload value of type %T", raw)
}
