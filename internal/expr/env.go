package expr

import (
	"math"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// constants are the numeric constants the expression language predefines.
var constants = map[string]bool{
	"PI":        true,
	"E":         true,
	"LN2":       true,
	"LN10":      true,
	"LOG2E":     true,
	"LOG10E":    true,
	"SQRT1_2":   true,
	"SQRT2":     true,
	"MIN_VALUE": true,
	"MAX_VALUE": true,
}

func constantValues() map[string]cty.Value {
	return map[string]cty.Value{
		"PI":        cty.NumberFloatVal(math.Pi),
		"E":         cty.NumberFloatVal(math.E),
		"LN2":       cty.NumberFloatVal(math.Ln2),
		"LN10":      cty.NumberFloatVal(math.Ln10),
		"LOG2E":     cty.NumberFloatVal(math.Log2E),
		"LOG10E":    cty.NumberFloatVal(math.Log10E),
		"SQRT1_2":   cty.NumberFloatVal(math.Sqrt2 / 2),
		"SQRT2":     cty.NumberFloatVal(math.Sqrt2),
		"MIN_VALUE": cty.NumberFloatVal(math.SmallestNonzeroFloat64),
		"MAX_VALUE": cty.NumberFloatVal(math.MaxFloat64),
	}
}

// Env is everything an expression may read besides the current row.
type Env struct {
	// Signals holds the resolved value of every signal in scope, by name.
	Signals map[string]cty.Value
	// Data holds datasets reachable through data(), each as a tuple of row objects.
	Data map[string]cty.Value
	// LocalTZ governs timezone-naive constructors and local time parts.
	LocalTZ *time.Location
	// InputTZ governs parsing of naive date strings.
	InputTZ *time.Location
	// Now is the clock used by now().
	Now func() time.Time
}

func (env *Env) local() *time.Location {
	if env == nil || env.LocalTZ == nil {
		return time.UTC
	}
	return env.LocalTZ
}

func (env *Env) input() *time.Location {
	if env == nil || env.InputTZ == nil {
		return env.local()
	}
	return env.InputTZ
}

// LocalLocation returns the local timezone, UTC when unset.
func (env *Env) LocalLocation() *time.Location { return env.local() }

// InputLocation returns the timezone for naive date strings.
func (env *Env) InputLocation() *time.Location { return env.input() }

func (env *Env) now() time.Time {
	if env == nil || env.Now == nil {
		return time.Now()
	}
	return env.Now()
}

// EvalContext builds the root evaluation context: constants, signals and
// the function table.
func (env *Env) EvalContext() *hcl.EvalContext {
	vars := constantValues()
	if env != nil {
		for name, v := range env.Signals {
			vars[name] = v
		}
	}
	return &hcl.EvalContext{
		Variables: vars,
		Functions: Functions(env),
	}
}

// WithDatum returns a child context that binds the current row.
func WithDatum(parent *hcl.EvalContext, datum cty.Value) *hcl.EvalContext {
	child := parent.NewChild()
	child.Variables = map[string]cty.Value{"datum": datum}
	return child
}

// Truthy applies the expression language's truthiness rules.
func Truthy(v cty.Value) bool {
	if v.IsNull() || !v.IsKnown() {
		return false
	}
	switch v.Type() {
	case cty.Bool:
		return v.True()
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f != 0 && !math.IsNaN(f)
	case cty.String:
		return v.AsString() != ""
	default:
		return true
	}
}
