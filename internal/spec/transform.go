package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vk/pretransform/internal/expr"
)

// TransformKind is the closed set of transform operators the planner knows
// how to evaluate. Every other type string maps to KindUnknown.
type TransformKind int

const (
	KindUnknown TransformKind = iota
	KindFilter
	KindFormula
	KindExtent
	KindAggregate
	KindBin
	KindCollect
	KindProject
	KindTimeUnit
	KindJoinAggregate
)

var kindsByName = map[string]TransformKind{
	"filter":        KindFilter,
	"formula":       KindFormula,
	"extent":        KindExtent,
	"aggregate":     KindAggregate,
	"bin":           KindBin,
	"collect":       KindCollect,
	"project":       KindProject,
	"timeunit":      KindTimeUnit,
	"joinaggregate": KindJoinAggregate,
}

func (k TransformKind) String() string {
	for name, kind := range kindsByName {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// SupportedAggregateOps are the aggregate operations the evaluator implements.
var SupportedAggregateOps = map[string]bool{
	"count": true, "valid": true, "missing": true, "distinct": true,
	"sum": true, "mean": true, "average": true, "min": true, "max": true,
	"variance": true, "variancep": true, "stdev": true, "stdevp": true,
}

// SupportedTimeUnits are the units the timeunit transform implements.
var SupportedTimeUnits = map[string]bool{
	"year": true, "quarter": true, "month": true, "date": true,
	"hours": true, "minutes": true, "seconds": true, "milliseconds": true,
}

// Param is a transform parameter: a literal, a signal expression, or an
// array mixing both.
type Param struct {
	Raw    json.RawMessage
	Signal *expr.Expr
	Items  []Param
}

// Literal reports whether the parameter is a plain JSON literal.
func (p Param) Literal() bool {
	return p.Signal == nil && p.Items == nil
}

// Exprs returns the signal expressions contained in the parameter.
func (p Param) Exprs() []*expr.Expr {
	if p.Signal != nil {
		return []*expr.Expr{p.Signal}
	}
	var out []*expr.Expr
	for _, it := range p.Items {
		out = append(out, it.Exprs()...)
	}
	return out
}

// Transform is one entry of a dataset's transform pipeline.
type Transform struct {
	Kind TransformKind
	// Type is the type string as written in the spec.
	Type   string
	Params map[string]Param
	// Expr is the row expression of filter and formula transforms.
	Expr *expr.Expr

	obj *Object
}

// Object returns the transform's underlying document node.
func (t *Transform) Object() *Object { return t.obj }

// Exprs returns every expression the transform evaluates.
func (t *Transform) Exprs() []*expr.Expr {
	var out []*expr.Expr
	if t.Expr != nil {
		out = append(out, t.Expr)
	}
	for _, key := range t.obj.Keys() {
		if p, ok := t.Params[key]; ok {
			out = append(out, p.Exprs()...)
		}
	}
	return out
}

// OutputSignals returns the names of signals the transform defines.
func (t *Transform) OutputSignals() []string {
	switch t.Kind {
	case KindExtent, KindBin:
		if name, ok := t.literalString("signal"); ok && name != "" {
			return []string{name}
		}
	}
	return nil
}

func (t *Transform) literalString(key string) (string, bool) {
	p, ok := t.Params[key]
	if !ok || !p.Literal() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p.Raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (t *Transform) literalStrings(key string) ([]string, bool) {
	p, ok := t.Params[key]
	if !ok || !p.Literal() {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(p.Raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (t *Transform) literalBool(key string) (bool, bool) {
	p, ok := t.Params[key]
	if !ok || !p.Literal() {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(p.Raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// CheckExpr reports why an expression cannot be evaluated statically.
func CheckExpr(e *expr.Expr) error {
	if e == nil {
		return nil
	}
	if !e.Supported() {
		return e.Err
	}
	if len(e.Refs.RuntimeOnly) > 0 {
		return fmt.Errorf("expression %q reads %s, which only exist while rendering",
			e.Source, strings.Join(e.Refs.RuntimeOnly, ", "))
	}
	if len(e.Refs.Modifies) > 0 {
		return fmt.Errorf("expression %q modifies data, which only happens while rendering", e.Source)
	}
	return nil
}

// Check reports why the transform cannot be evaluated statically, or nil
// when it can.
func (t *Transform) Check() error {
	if t.Kind == KindUnknown {
		if t.Type == "" {
			return fmt.Errorf("transform is missing its type")
		}
		return fmt.Errorf("transform type %q is not supported", t.Type)
	}
	for _, e := range t.Exprs() {
		if err := CheckExpr(e); err != nil {
			return err
		}
	}

	switch t.Kind {
	case KindFilter, KindFormula:
		if t.Expr == nil {
			return fmt.Errorf("%s transform requires an expr", t.Kind)
		}
		if t.Kind == KindFormula {
			if _, ok := t.Params["as"]; !ok {
				return fmt.Errorf("formula transform requires as")
			}
		}
	case KindExtent, KindBin, KindTimeUnit:
		if _, ok := t.Params["field"]; !ok {
			return fmt.Errorf("%s transform requires a field", t.Kind)
		}
		if t.Kind == KindBin {
			if _, ok := t.Params["extent"]; !ok {
				return fmt.Errorf("bin transform requires an extent")
			}
		}
		if t.Kind == KindTimeUnit {
			if units, ok := t.literalStrings("units"); ok {
				for _, u := range units {
					if !SupportedTimeUnits[u] {
						return fmt.Errorf("time unit %q is not supported", u)
					}
				}
			} else if _, set := t.Params["units"]; !set {
				return fmt.Errorf("timeunit transform requires units")
			}
		}
	case KindAggregate, KindJoinAggregate:
		if ops, ok := t.literalStrings("ops"); ok {
			for _, op := range ops {
				if !SupportedAggregateOps[op] {
					return fmt.Errorf("aggregate operation %q is not supported", op)
				}
			}
		}
		if cross, ok := t.literalBool("cross"); ok && cross {
			return fmt.Errorf("aggregate with cross=true is not supported")
		}
		if drop, ok := t.literalBool("drop"); ok && !drop {
			return fmt.Errorf("aggregate with drop=false is not supported")
		}
	}
	return nil
}
