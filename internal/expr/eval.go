package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// eval walks the syntax tree with the expression language's own operator
// rules. HCL's operators require booleans for && and ||, unify both arms of
// a conditional to one type and reject string +, so only leaves (literals,
// templates) are delegated to hclsyntax.
func eval(node hclsyntax.Expression, ctx *hcl.EvalContext) (cty.Value, error) {
	switch e := node.(type) {
	case *hclsyntax.ParenthesesExpr:
		return eval(e.Expression, ctx)
	case *hclsyntax.ScopeTraversalExpr:
		root, ok := lookupVariable(ctx, e.Traversal.RootName())
		if !ok {
			return cty.NilVal, fmt.Errorf("unknown variable %q", e.Traversal.RootName())
		}
		return traverse(root, e.Traversal[1:])
	case *hclsyntax.RelativeTraversalExpr:
		src, err := eval(e.Source, ctx)
		if err != nil {
			return cty.NilVal, err
		}
		return traverse(src, e.Traversal)
	case *hclsyntax.IndexExpr:
		coll, err := eval(e.Collection, ctx)
		if err != nil {
			return cty.NilVal, err
		}
		key, err := eval(e.Key, ctx)
		if err != nil {
			return cty.NilVal, err
		}
		return index(coll, key)
	case *hclsyntax.FunctionCallExpr:
		return call(e, ctx)
	case *hclsyntax.ConditionalExpr:
		cond, err := eval(e.Condition, ctx)
		if err != nil || !cond.IsKnown() {
			return cty.DynamicVal, err
		}
		if Truthy(cond) {
			return eval(e.TrueResult, ctx)
		}
		return eval(e.FalseResult, ctx)
	case *hclsyntax.BinaryOpExpr:
		return binary(e, ctx)
	case *hclsyntax.UnaryOpExpr:
		v, err := eval(e.Val, ctx)
		if err != nil || !v.IsKnown() {
			return cty.DynamicVal, err
		}
		if e.Op == hclsyntax.OpLogicalNot {
			return cty.BoolVal(!Truthy(v)), nil
		}
		return table.NumberVal(-toNumber(v)), nil
	case *hclsyntax.TupleConsExpr:
		items := make([]cty.Value, len(e.Exprs))
		for i, item := range e.Exprs {
			v, err := eval(item, ctx)
			if err != nil {
				return cty.NilVal, err
			}
			items[i] = v
		}
		return cty.TupleVal(items), nil
	case *hclsyntax.ObjectConsExpr:
		attrs := make(map[string]cty.Value, len(e.Items))
		for _, item := range e.Items {
			key, diags := item.KeyExpr.Value(ctx)
			if diags.HasErrors() {
				return cty.NilVal, diags
			}
			v, err := eval(item.ValueExpr, ctx)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[toJSString(key)] = v
		}
		return cty.ObjectVal(attrs), nil
	}

	v, diags := node.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return v, nil
}

func binary(e *hclsyntax.BinaryOpExpr, ctx *hcl.EvalContext) (cty.Value, error) {
	lhs, err := eval(e.LHS, ctx)
	if err != nil || !lhs.IsKnown() {
		return cty.DynamicVal, err
	}
	switch e.Op {
	case hclsyntax.OpLogicalAnd:
		if !Truthy(lhs) {
			return lhs, nil
		}
		return eval(e.RHS, ctx)
	case hclsyntax.OpLogicalOr:
		if Truthy(lhs) {
			return lhs, nil
		}
		return eval(e.RHS, ctx)
	}

	rhs, err := eval(e.RHS, ctx)
	if err != nil || !rhs.IsKnown() {
		return cty.DynamicVal, err
	}
	switch e.Op {
	case hclsyntax.OpAdd:
		if isStringy(lhs) || isStringy(rhs) {
			return cty.StringVal(toJSString(lhs) + toJSString(rhs)), nil
		}
		return table.NumberVal(toNumber(lhs) + toNumber(rhs)), nil
	case hclsyntax.OpSubtract:
		return table.NumberVal(toNumber(lhs) - toNumber(rhs)), nil
	case hclsyntax.OpMultiply:
		return table.NumberVal(toNumber(lhs) * toNumber(rhs)), nil
	case hclsyntax.OpDivide:
		return table.NumberVal(toNumber(lhs) / toNumber(rhs)), nil
	case hclsyntax.OpModulo:
		return table.NumberVal(math.Mod(toNumber(lhs), toNumber(rhs))), nil
	case hclsyntax.OpEqual:
		return cty.BoolVal(looseEquals(lhs, rhs)), nil
	case hclsyntax.OpNotEqual:
		return cty.BoolVal(!looseEquals(lhs, rhs)), nil
	case hclsyntax.OpLessThan:
		return compare(lhs, rhs, func(c int) bool { return c < 0 }), nil
	case hclsyntax.OpLessThanOrEqual:
		return compare(lhs, rhs, func(c int) bool { return c <= 0 }), nil
	case hclsyntax.OpGreaterThan:
		return compare(lhs, rhs, func(c int) bool { return c > 0 }), nil
	case hclsyntax.OpGreaterThanOrEqual:
		return compare(lhs, rhs, func(c int) bool { return c >= 0 }), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported operator")
}

func call(e *hclsyntax.FunctionCallExpr, ctx *hcl.EvalContext) (cty.Value, error) {
	fn, ok := lookupFunction(ctx, e.Name)
	if !ok {
		return cty.NilVal, fmt.Errorf("unknown function %s()", e.Name)
	}
	args := make([]cty.Value, len(e.Args))
	for i, arg := range e.Args {
		v, err := eval(arg, ctx)
		if err != nil {
			return cty.NilVal, err
		}
		args[i] = v
	}
	v, err := fn.Call(args)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s(): %w", e.Name, err)
	}
	return v, nil
}

func lookupVariable(ctx *hcl.EvalContext, name string) (cty.Value, bool) {
	for c := ctx; c != nil; c = c.Parent() {
		if v, ok := c.Variables[name]; ok {
			return v, true
		}
	}
	return cty.NilVal, false
}

func lookupFunction(ctx *hcl.EvalContext, name string) (function.Function, bool) {
	for c := ctx; c != nil; c = c.Parent() {
		if fn, ok := c.Functions[name]; ok {
			return fn, true
		}
	}
	return function.Function{}, false
}

func traverse(v cty.Value, steps hcl.Traversal) (cty.Value, error) {
	var err error
	for _, step := range steps {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			v, err = index(v, cty.StringVal(s.Name))
		case hcl.TraverseIndex:
			v, err = index(v, s.Key)
		default:
			return cty.NilVal, fmt.Errorf("unsupported traversal")
		}
		if err != nil {
			return cty.NilVal, err
		}
	}
	return v, nil
}

// index reads a property or element. A missing property reads as null;
// reading from null is an error.
func index(coll, key cty.Value) (cty.Value, error) {
	if coll.IsNull() {
		return cty.NilVal, fmt.Errorf("cannot read property %s of null", toJSString(key))
	}
	if !coll.IsKnown() || !key.IsKnown() {
		return cty.DynamicVal, nil
	}
	ty := coll.Type()
	name := toJSString(key)
	switch {
	case ty.IsObjectType():
		if ty.HasAttribute(name) {
			return coll.GetAttr(name), nil
		}
	case ty.IsMapType():
		if coll.HasIndex(cty.StringVal(name)).True() {
			return coll.Index(cty.StringVal(name)), nil
		}
	case ty.IsTupleType() || ty.IsListType() || ty == cty.String:
		if name == "length" {
			if ty == cty.String {
				return cty.NumberIntVal(int64(len([]rune(coll.AsString())))), nil
			}
			return cty.NumberIntVal(int64(coll.LengthInt())), nil
		}
		f := toNumber(key)
		if f != math.Trunc(f) || f < 0 {
			break
		}
		i := int(f)
		if ty == cty.String {
			runes := []rune(coll.AsString())
			if i < len(runes) {
				return cty.StringVal(string(runes[i])), nil
			}
			break
		}
		if i < coll.LengthInt() {
			return coll.Index(cty.NumberIntVal(int64(i))), nil
		}
	}
	return cty.NullVal(cty.DynamicPseudoType), nil
}

func isStringy(v cty.Value) bool {
	if v.IsNull() {
		return false
	}
	ty := v.Type()
	return ty == cty.String || ty.IsTupleType() || ty.IsListType() || ty.IsObjectType() || ty.IsMapType()
}

// toNumber applies numeric coercion: null is 0, booleans are 0 or 1 and
// strings parse or become NaN.
func toNumber(v cty.Value) float64 {
	if v.IsNull() {
		return 0
	}
	switch v.Type() {
	case cty.Number:
		return table.ToFloat(v)
	case cty.Bool:
		if v.True() {
			return 1
		}
		return 0
	case cty.String:
		s := strings.TrimSpace(v.AsString())
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// toJSString renders a value the way string concatenation does.
func toJSString(v cty.Value) string {
	if v.IsNull() {
		return "null"
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Number:
		return table.FormatNumber(table.ToFloat(v))
	case ty == cty.Bool:
		return strconv.FormatBool(v.True())
	case ty.IsTupleType() || ty.IsListType():
		parts := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, el := it.Element()
			if el.IsNull() {
				parts = append(parts, "")
				continue
			}
			parts = append(parts, toJSString(el))
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

func isPrimitive(ty cty.Type) bool {
	return ty == cty.String || ty == cty.Number || ty == cty.Bool
}

// looseEquals compares primitives, coercing mixed types to numbers. Null
// only equals null and composite values never compare equal.
func looseEquals(a, b cty.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if !isPrimitive(a.Type()) || !isPrimitive(b.Type()) {
		return false
	}
	if a.Type() == b.Type() && a.Type() != cty.Number {
		return a.Equals(b).True()
	}
	return toNumber(a) == toNumber(b)
}

// compare orders two strings lexically and anything else numerically. A NaN
// operand makes every comparison false.
func compare(a, b cty.Value, test func(int) bool) cty.Value {
	if !a.IsNull() && !b.IsNull() && a.Type() == cty.String && b.Type() == cty.String {
		return cty.BoolVal(test(strings.Compare(a.AsString(), b.AsString())))
	}
	x, y := toNumber(a), toNumber(b)
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return cty.False
	case x < y:
		return cty.BoolVal(test(-1))
	case x > y:
		return cty.BoolVal(test(1))
	}
	return cty.BoolVal(test(0))
}
