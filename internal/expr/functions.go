package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// staticFunctions do not depend on the evaluation environment.
var staticFunctions = map[string]function.Function{
	"abs":   stdlib.AbsoluteFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"pow":   stdlib.PowFunc,
	"max":   stdlib.MaxFunc,
	"min":   stdlib.MinFunc,
	"upper": stdlib.UpperFunc,
	"lower": stdlib.LowerFunc,
	"trim":  stdlib.TrimSpaceFunc,
	"sign":  stdlib.SignumFunc,

	"sqrt":  mathFunc(math.Sqrt),
	"exp":   mathFunc(math.Exp),
	"log":   mathFunc(math.Log),
	"sin":   mathFunc(math.Sin),
	"cos":   mathFunc(math.Cos),
	"tan":   mathFunc(math.Tan),
	"asin":  mathFunc(math.Asin),
	"acos":  mathFunc(math.Acos),
	"atan":  mathFunc(math.Atan),
	"round": mathFunc(func(x float64) float64 { return math.Floor(x + 0.5) }),
	"atan2": mathFunc2(math.Atan2),
	"hypot": mathFunc2(math.Hypot),
	"clamp": clampFunc,

	"isValid":   typeTestFunc(func(v cty.Value) bool { return !v.IsNull() }),
	"isNumber":  typeTestFunc(func(v cty.Value) bool { return !v.IsNull() && v.Type() == cty.Number }),
	"isString":  typeTestFunc(func(v cty.Value) bool { return !v.IsNull() && v.Type() == cty.String }),
	"isBoolean": typeTestFunc(func(v cty.Value) bool { return !v.IsNull() && v.Type() == cty.Bool }),
	"isArray": typeTestFunc(func(v cty.Value) bool {
		return !v.IsNull() && (v.Type().IsTupleType() || v.Type().IsListType())
	}),
	"isObject": typeTestFunc(func(v cty.Value) bool {
		return !v.IsNull() && (v.Type().IsObjectType() || v.Type().IsMapType())
	}),

	"toNumber":  toNumberFunc,
	"toString":  toStringFunc,
	"toBoolean": toBooleanFunc,
	"length":    lengthFunc,
	"if":        ifFunc,
	"substring": substringFunc,
	"indexof":   indexOfFunc,
	"inrange":   inRangeFunc,
	"extent":    extentFunc,
	"span":      spanFunc,
}

// envFunctions are built per Env by Functions.
var envFunctions = map[string]bool{
	"now": true, "datetime": true, "utc": true, "toDate": true, "data": true, "modify": true,
	"vlSelectionTest": true,
	"year": true, "quarter": true, "month": true, "date": true, "day": true, "dayofyear": true,
	"hours": true, "minutes": true, "seconds": true, "milliseconds": true,
	"utcyear": true, "utcquarter": true, "utcmonth": true, "utcdate": true, "utcday": true,
	"utcdayofyear": true, "utchours": true, "utcminutes": true, "utcseconds": true,
	"utcmilliseconds": true,
}

func knownFunction(name string) bool {
	if _, ok := staticFunctions[name]; ok {
		return true
	}
	return envFunctions[name]
}

var timeParts = map[string]func(time.Time) int{
	"year":         func(t time.Time) int { return t.Year() },
	"quarter":      func(t time.Time) int { return (int(t.Month())-1)/3 + 1 },
	"month":        func(t time.Time) int { return int(t.Month()) - 1 },
	"date":         func(t time.Time) int { return t.Day() },
	"day":          func(t time.Time) int { return int(t.Weekday()) },
	"dayofyear":    func(t time.Time) int { return t.YearDay() },
	"hours":        func(t time.Time) int { return t.Hour() },
	"minutes":      func(t time.Time) int { return t.Minute() },
	"seconds":      func(t time.Time) int { return t.Second() },
	"milliseconds": func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) },
}

// Functions returns the full function table for env.
func Functions(env *Env) map[string]function.Function {
	fns := make(map[string]function.Function, len(staticFunctions)+len(envFunctions))
	for name, fn := range staticFunctions {
		fns[name] = fn
	}

	local := env.local()
	for name, part := range timeParts {
		fns[name] = timePartFunc(local, part)
		fns["utc"+name] = timePartFunc(time.UTC, part)
	}
	fns["datetime"] = dateTimeFunc(local)
	fns["utc"] = dateTimeFunc(time.UTC)
	fns["now"] = function.New(&function.Spec{
		Type: function.StaticReturnType(cty.Number),
		Impl: func(_ []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.NumberIntVal(env.now().UnixMilli()), nil
		},
	})
	fns["toDate"] = toDateFunc(env.input())
	fns["data"] = dataFunc(env)
	fns["vlSelectionTest"] = selectionTestFunc(env)
	fns["modify"] = function.New(&function.Spec{
		VarParam: &function.Parameter{Name: "args", Type: cty.DynamicPseudoType, AllowNull: true},
		Type:     function.StaticReturnType(cty.Bool),
		Impl: func(_ []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.NilVal, fmt.Errorf("modify() is only available while rendering")
		},
	})
	return fns
}

func mathFunc(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return table.NumberVal(fn(table.ToFloat(args[0]))), nil
		},
	})
}

func mathFunc2(fn func(float64, float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return table.NumberVal(fn(table.ToFloat(args[0]), table.ToFloat(args[1]))), nil
		},
	})
}

var clampFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.Number},
		{Name: "min", Type: cty.Number},
		{Name: "max", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v, lo, hi := table.ToFloat(args[0]), table.ToFloat(args[1]), table.ToFloat(args[2])
		return table.NumberVal(math.Max(lo, math.Min(hi, v))), nil
	},
})

func typeTestFunc(test func(cty.Value) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{
			Name: "value", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true,
		}},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(test(args[0])), nil
		},
	})
}

var toNumberFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		if v.IsNull() {
			return cty.NullVal(cty.Number), nil
		}
		switch v.Type() {
		case cty.Number:
			return v, nil
		case cty.Bool:
			if v.True() {
				return cty.NumberIntVal(1), nil
			}
			return cty.NumberIntVal(0), nil
		case cty.String:
			s := strings.TrimSpace(v.AsString())
			if s == "" {
				return cty.NumberIntVal(0), nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return cty.NullVal(cty.Number), nil
			}
			return table.NumberVal(f), nil
		}
		return cty.NullVal(cty.Number), nil
	},
})

var toStringFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		if v.IsNull() {
			return cty.NullVal(cty.String), nil
		}
		switch v.Type() {
		case cty.String:
			return v, nil
		case cty.Bool:
			return cty.StringVal(strconv.FormatBool(v.True())), nil
		case cty.Number:
			return cty.StringVal(table.FormatNumber(table.ToFloat(v))), nil
		}
		raw, err := table.ValueToJSON(v)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(string(raw)), nil
	},
})

var toBooleanFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
	Type:   function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if args[0].IsNull() {
			return cty.NullVal(cty.Bool), nil
		}
		return cty.BoolVal(Truthy(args[0])), nil
	},
})

var lengthFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		ty := v.Type()
		switch {
		case ty == cty.String:
			return cty.NumberIntVal(int64(len([]rune(v.AsString())))), nil
		case ty.IsObjectType():
			return cty.NumberIntVal(int64(len(ty.AttributeTypes()))), nil
		case ty.IsTupleType() || ty.IsCollectionType():
			return cty.NumberIntVal(int64(v.LengthInt())), nil
		}
		return cty.NilVal, fmt.Errorf("length() does not apply to %s", ty.FriendlyName())
	},
})

var ifFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "test", Type: cty.DynamicPseudoType, AllowNull: true},
		{Name: "then", Type: cty.DynamicPseudoType, AllowNull: true},
		{Name: "else", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		return cty.DynamicPseudoType, nil
	},
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if Truthy(args[0]) {
			return args[1], nil
		}
		return args[2], nil
	},
})

var substringFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "str", Type: cty.String},
		{Name: "start", Type: cty.Number},
	},
	VarParam: &function.Parameter{Name: "end", Type: cty.Number},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		runes := []rune(args[0].AsString())
		clampIdx := func(f float64) int {
			if math.IsNaN(f) || f < 0 {
				return 0
			}
			if f > float64(len(runes)) {
				return len(runes)
			}
			return int(f)
		}
		start, end := clampIdx(table.ToFloat(args[1])), len(runes)
		if len(args) > 2 {
			end = clampIdx(table.ToFloat(args[2]))
		}
		if start > end {
			start, end = end, start
		}
		return cty.StringVal(string(runes[start:end])), nil
	},
})

var indexOfFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "haystack", Type: cty.DynamicPseudoType},
		{Name: "needle", Type: cty.DynamicPseudoType, AllowNull: true},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		hay, needle := args[0], args[1]
		if hay.Type() == cty.String {
			if needle.IsNull() || needle.Type() != cty.String {
				return cty.NumberIntVal(-1), nil
			}
			idx := strings.Index(hay.AsString(), needle.AsString())
			if idx < 0 {
				return cty.NumberIntVal(-1), nil
			}
			return cty.NumberIntVal(int64(len([]rune(hay.AsString()[:idx])))), nil
		}
		if hay.Type().IsTupleType() || hay.Type().IsListType() {
			i := 0
			for it := hay.ElementIterator(); it.Next(); i++ {
				_, el := it.Element()
				if el.RawEquals(needle) {
					return cty.NumberIntVal(int64(i)), nil
				}
			}
			return cty.NumberIntVal(-1), nil
		}
		return cty.NilVal, fmt.Errorf("indexof() does not apply to %s", hay.Type().FriendlyName())
	},
})

var inRangeFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.Number},
		{Name: "range", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		nums := numbersOf(args[1])
		if len(nums) < 2 {
			return cty.NilVal, fmt.Errorf("inrange() requires a two-element range")
		}
		v := table.ToFloat(args[0])
		lo, hi := math.Min(nums[0], nums[len(nums)-1]), math.Max(nums[0], nums[len(nums)-1])
		return cty.BoolVal(v >= lo && v <= hi), nil
	},
})

var extentFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "values", Type: cty.DynamicPseudoType}},
	Type:   function.StaticReturnType(cty.Tuple([]cty.Type{cty.Number, cty.Number})),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		nums := numbersOf(args[0])
		if len(nums) == 0 {
			return cty.TupleVal([]cty.Value{cty.NullVal(cty.Number), cty.NullVal(cty.Number)}), nil
		}
		lo, hi := nums[0], nums[0]
		for _, f := range nums[1:] {
			lo, hi = math.Min(lo, f), math.Max(hi, f)
		}
		return cty.TupleVal([]cty.Value{table.NumberVal(lo), table.NumberVal(hi)}), nil
	},
})

var spanFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "values", Type: cty.DynamicPseudoType}},
	Type:   function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		nums := numbersOf(args[0])
		if len(nums) == 0 {
			return cty.NumberIntVal(0), nil
		}
		return table.NumberVal(nums[len(nums)-1] - nums[0]), nil
	},
})

// numbersOf collects the non-null numeric elements of a sequence value.
func numbersOf(v cty.Value) []float64 {
	if v.IsNull() || !(v.Type().IsTupleType() || v.Type().IsListType() || v.Type().IsSetType()) {
		return nil
	}
	var out []float64
	for it := v.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if el.IsNull() || el.Type() != cty.Number {
			continue
		}
		out = append(out, table.ToFloat(el))
	}
	return out
}

func timePartFunc(loc *time.Location, part func(time.Time) int) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "timestamp", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			t := table.TimeOf(table.ToFloat(args[0]), loc)
			return cty.NumberIntVal(int64(part(t))), nil
		},
	})
}

// dateTimeFunc mirrors the Date constructor: year, zero-based month, date,
// hours, minutes, seconds, milliseconds.
func dateTimeFunc(loc *time.Location) function.Function {
	return function.New(&function.Spec{
		Params:   []function.Parameter{{Name: "year", Type: cty.Number}},
		VarParam: &function.Parameter{Name: "parts", Type: cty.Number},
		Type:     function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			parts := []int{0, 0, 1, 0, 0, 0, 0}
			for i, a := range args {
				if i >= len(parts) {
					break
				}
				parts[i] = int(math.Floor(table.ToFloat(a)))
			}
			t := time.Date(parts[0], time.Month(parts[1]+1), parts[2], parts[3], parts[4], parts[5],
				parts[6]*int(time.Millisecond), loc)
			return cty.NumberIntVal(t.UnixMilli()), nil
		},
	})
}

func toDateFunc(loc *time.Location) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			v := args[0]
			if v.IsNull() {
				return cty.NullVal(cty.Number), nil
			}
			switch v.Type() {
			case cty.Number:
				return v, nil
			case cty.String:
				if t, ok := table.ParseDate(v.AsString(), loc); ok {
					return cty.NumberIntVal(t.UnixMilli()), nil
				}
			}
			return cty.NullVal(cty.Number), nil
		},
	})
}

func dataFunc(env *Env) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "name", Type: cty.String}},
		Type: func(args []cty.Value) (cty.Type, error) {
			return cty.DynamicPseudoType, nil
		},
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			name := args[0].AsString()
			if env != nil {
				if v, ok := env.Data[name]; ok {
					return v, nil
				}
			}
			return cty.NilVal, fmt.Errorf("dataset %q is not available", name)
		},
	})
}
