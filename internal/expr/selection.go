package expr

import (
	"fmt"
	"math"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// selectionOps are the ways the rows of a selection store combine.
var selectionOps = map[string]bool{"union": true, "intersect": true}

// selectionTestFunc tests a row against a selection store: a dataset whose
// rows look like {"fields": [{"field", "type"}], "values": [...]}. A store
// row matches when every field matches its value; the rows are then
// combined with union (the default) or intersect. An empty store selects
// nothing.
func selectionTestFunc(env *Env) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "store", Type: cty.String},
			{Name: "datum", Type: cty.DynamicPseudoType, AllowNull: true},
		},
		VarParam: &function.Parameter{Name: "op", Type: cty.String},
		Type:     function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			name := args[0].AsString()
			op := "union"
			if len(args) > 2 {
				op = args[2].AsString()
			}
			if !selectionOps[op] {
				return cty.NilVal, fmt.Errorf("selection operation %q is not supported", op)
			}

			var store cty.Value
			found := false
			if env != nil {
				store, found = env.Data[name]
			}
			if !found {
				return cty.NilVal, fmt.Errorf("dataset %q is not available", name)
			}
			if !isSequence(store) || store.LengthInt() == 0 {
				return cty.False, nil
			}

			for it := store.ElementIterator(); it.Next(); {
				_, row := it.Element()
				ok, err := selectionRowMatches(row, args[1])
				if err != nil {
					return cty.NilVal, fmt.Errorf("store %q: %w", name, err)
				}
				if ok && op == "union" {
					return cty.True, nil
				}
				if !ok && op == "intersect" {
					return cty.False, nil
				}
			}
			return cty.BoolVal(op == "intersect"), nil
		},
	})
}

func selectionRowMatches(row, datum cty.Value) (bool, error) {
	fields, err := index(row, cty.StringVal("fields"))
	if err != nil {
		return false, err
	}
	values, err := index(row, cty.StringVal("values"))
	if err != nil {
		return false, err
	}
	if !isSequence(fields) || !isSequence(values) {
		return false, fmt.Errorf("store rows need fields and values arrays")
	}
	if fields.LengthInt() != values.LengthInt() {
		return false, fmt.Errorf("%d selection fields but %d values", fields.LengthInt(), values.LengthInt())
	}
	if fields.LengthInt() == 0 {
		return false, fmt.Errorf("store row has no fields")
	}

	all := values.AsValueSlice()
	i := 0
	for it := fields.ElementIterator(); it.Next(); i++ {
		_, fs := it.Element()
		field, err := index(fs, cty.StringVal("field"))
		if err != nil {
			return false, err
		}
		typ, err := index(fs, cty.StringVal("type"))
		if err != nil {
			return false, err
		}
		if field.IsNull() || field.Type() != cty.String {
			return false, fmt.Errorf("selection field %d has no name", i)
		}
		v, err := index(datum, field)
		if err != nil {
			return false, err
		}
		ok, err := selectionFieldMatches(toJSString(typ), v, all[i])
		if err != nil {
			return false, fmt.Errorf("field %q: %w", field.AsString(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// selectionFieldMatches applies one field test. "E" tests membership in a
// set of values; the "R" kinds test a two-element range, inclusive ("R"),
// exclusive ("R-E"), or exclusive on the left ("R-LE") or right ("R-RE").
func selectionFieldMatches(typ string, v, want cty.Value) (bool, error) {
	var test func(lo, x, hi float64) bool
	switch typ {
	case "R":
		test = func(lo, x, hi float64) bool { return lo <= x && x <= hi }
	case "R-E":
		test = func(lo, x, hi float64) bool { return lo < x && x < hi }
	case "R-LE":
		test = func(lo, x, hi float64) bool { return lo < x && x <= hi }
	case "R-RE":
		test = func(lo, x, hi float64) bool { return lo <= x && x < hi }
	case "E":
		if !isSequence(want) {
			return looseEquals(v, want), nil
		}
		for it := want.ElementIterator(); it.Next(); {
			_, el := it.Element()
			if looseEquals(v, el) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("selection type %q is not supported", typ)
	}

	if !isSequence(want) || want.LengthInt() != 2 {
		return false, fmt.Errorf("range values must be a two-element array")
	}
	bounds := want.AsValueSlice()
	lo, hi := toNumber(bounds[0]), toNumber(bounds[1])
	if lo > hi {
		lo, hi = hi, lo
	}
	if v.IsNull() {
		return false, nil
	}
	x := toNumber(v)
	if math.IsNaN(x) || math.IsNaN(lo) || math.IsNaN(hi) {
		return false, nil
	}
	return test(lo, x, hi), nil
}

func isSequence(v cty.Value) bool {
	if v.IsNull() || !v.IsKnown() {
		return false
	}
	ty := v.Type()
	return ty.IsTupleType() || ty.IsListType()
}
