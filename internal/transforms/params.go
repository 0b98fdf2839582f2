package transforms

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// params resolves a transform's parameters, evaluating signal expressions
// against the pipeline's evaluation context.
type params struct {
	tr  *spec.Transform
	ctx *hcl.EvalContext
}

func (p params) has(key string) bool {
	_, ok := p.tr.Params[key]
	return ok
}

// value resolves a parameter. The boolean is false when the parameter is
// absent.
func (p params) value(key string) (cty.Value, bool, error) {
	param, ok := p.tr.Params[key]
	if !ok {
		return cty.NilVal, false, nil
	}
	v, err := p.resolve(param)
	if err != nil {
		return cty.NilVal, true, fmt.Errorf("parameter %s: %w", key, err)
	}
	return v, true, nil
}

func (p params) resolve(param spec.Param) (cty.Value, error) {
	switch {
	case param.Signal != nil:
		return param.Signal.Value(p.ctx)
	case param.Items != nil:
		if len(param.Items) == 0 {
			return cty.EmptyTupleVal, nil
		}
		els := make([]cty.Value, len(param.Items))
		for i, it := range param.Items {
			v, err := p.resolve(it)
			if err != nil {
				return cty.NilVal, err
			}
			els[i] = v
		}
		return cty.TupleVal(els), nil
	}
	return table.ValueFromJSON(param.Raw)
}

func (p params) str(key, def string) (string, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return def, err
	}
	if v.Type() != cty.String {
		return "", fmt.Errorf("parameter %s must be a string, got %s", key, v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

func (p params) number(key string, def float64) (float64, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return def, err
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("parameter %s must be a number, got %s", key, v.Type().FriendlyName())
	}
	return table.ToFloat(v), nil
}

func (p params) boolean(key string, def bool) (bool, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return def, err
	}
	if v.Type() != cty.Bool {
		return false, fmt.Errorf("parameter %s must be a boolean, got %s", key, v.Type().FriendlyName())
	}
	return v.True(), nil
}

func (p params) numbers(key string) ([]float64, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return nil, err
	}
	if !isSequence(v) {
		return nil, fmt.Errorf("parameter %s must be an array of numbers", key)
	}
	var out []float64
	for _, el := range v.AsValueSlice() {
		if el.IsNull() || el.Type() != cty.Number {
			return nil, fmt.Errorf("parameter %s must be an array of numbers", key)
		}
		out = append(out, table.ToFloat(el))
	}
	return out, nil
}

// strings resolves a string or an array of strings.
func (p params) strings(key string) ([]string, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return nil, err
	}
	if v.Type() == cty.String {
		return []string{v.AsString()}, nil
	}
	if !isSequence(v) {
		return nil, fmt.Errorf("parameter %s must be a string or an array of strings", key)
	}
	var out []string
	for _, el := range v.AsValueSlice() {
		if el.IsNull() || el.Type() != cty.String {
			return nil, fmt.Errorf("parameter %s must be a string or an array of strings", key)
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

// fields resolves field references: a name, a {"field": name} object, or an
// array of those. Null entries are kept as "".
func (p params) fields(key string) ([]string, error) {
	v, ok, err := p.value(key)
	if err != nil || !ok || v.IsNull() {
		return nil, err
	}
	if !isSequence(v) {
		name, err := fieldName(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		return []string{name}, nil
	}
	var out []string
	for _, el := range v.AsValueSlice() {
		name, err := fieldName(el)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		out = append(out, name)
	}
	return out, nil
}

// field resolves a single required field reference.
func (p params) field(key string) (string, error) {
	names, err := p.fields(key)
	if err != nil {
		return "", err
	}
	if len(names) != 1 || names[0] == "" {
		return "", fmt.Errorf("parameter %s must name exactly one field", key)
	}
	return names[0], nil
}

func fieldName(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty.IsObjectType() && ty.HasAttribute("field"):
		return fieldName(v.GetAttr("field"))
	}
	return "", fmt.Errorf("invalid field reference of type %s", ty.FriendlyName())
}

func isSequence(v cty.Value) bool {
	ty := v.Type()
	return ty.IsTupleType() || ty.IsListType() || ty.IsSetType()
}

// get reads a field from a row. Dotted names that are not columns
// themselves walk nested objects.
func get(row map[string]cty.Value, field string) cty.Value {
	if v, ok := row[field]; ok {
		return v
	}
	if !strings.Contains(field, ".") {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	parts := strings.Split(field, ".")
	v, ok := row[parts[0]]
	if !ok {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	for _, part := range parts[1:] {
		if v.IsNull() || !v.Type().IsObjectType() || !v.Type().HasAttribute(part) {
			return cty.NullVal(cty.DynamicPseudoType)
		}
		v = v.GetAttr(part)
	}
	return v
}

// names returns the output names: as[i] when given, otherwise defaults[i].
func names(as, defaults []string) []string {
	out := make([]string, len(defaults))
	for i := range defaults {
		if i < len(as) && as[i] != "" {
			out[i] = as[i]
		} else {
			out[i] = defaults[i]
		}
	}
	return out
}

func copyRow(row map[string]cty.Value, extra int) map[string]cty.Value {
	out := make(map[string]cty.Value, len(row)+extra)
	for k, v := range row {
		out[k] = v
	}
	return out
}
