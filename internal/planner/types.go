package planner

import (
	"encoding/json"
	"fmt"

	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/varid"
	"github.com/zclconf/go-cty/cty"
)

// InlineDataset is a caller-supplied table, encoded with the table codec.
type InlineDataset struct {
	Name  string
	Table []byte
}

// SpecOpts are the options of PreTransformSpec.
type SpecOpts struct {
	// RowLimit caps every computed dataset. Nil or zero means unlimited.
	RowLimit       *int
	InlineDatasets []InlineDataset
	// PreserveInteractivity keeps consumers of interactive signals live.
	// When false they are evaluated once with the signals' initial values
	// and reported with a BrokenInteractivity warning. Defaults to true.
	PreserveInteractivity *bool
}

// SpecRequest asks for a rewritten spec.
type SpecRequest struct {
	Spec     string
	LocalTZ  string
	OutputTZ *string
	Opts     SpecOpts
}

// SpecResponse is the rewritten spec and what happened along the way.
type SpecResponse struct {
	Spec     string    `json:"spec"`
	Warnings []Warning `json:"warnings"`
}

// VariableRequest names one (variable, scope) instantiation.
type VariableRequest struct {
	Variable varid.Variable
	Scope    varid.Scope
}

// ValuesOpts are the options of PreTransformValues.
type ValuesOpts struct {
	Variables      []VariableRequest
	InlineDatasets []InlineDataset
	RowLimit       *int
}

// ValuesRequest asks for the values of specific variables.
type ValuesRequest struct {
	Spec           string
	LocalTZ        string
	DefaultInputTZ *string
	Opts           ValuesOpts
}

// ValuesResponse has exactly one value per requested variable, in request
// order.
type ValuesResponse struct {
	Values   []ResponseValue `json:"values"`
	Warnings []Warning       `json:"warnings"`
}

// ResponseValue is the value of one requested variable.
type ResponseValue struct {
	Variable varid.Variable
	Scope    varid.Scope
	Value    Value
}

// MarshalJSON encodes the value with its variable and scope; a nil scope is written as [].
func (rv ResponseValue) MarshalJSON() ([]byte, error) {
	scope := rv.Scope
	if scope == nil {
		scope = varid.Scope{}
	}
	value, err := rv.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", rv.Variable, err)
	}
	return json.Marshal(struct {
		Variable string          `json:"variable"`
		Scope    []int           `json:"scope"`
		Value    json.RawMessage `json:"value"`
	}{rv.Variable.String(), scope, value})
}

// Value is either a scalar signal value or a dataset table.
type Value struct {
	Scalar cty.Value
	Table  *table.Table
}

// ScalarValue wraps a signal value.
func ScalarValue(v cty.Value) Value {
	return Value{Scalar: v}
}

// TableValue wraps a dataset.
func TableValue(t *table.Table) Value {
	return Value{Table: t}
}

// placeholder is the value returned for variables that cannot be produced.
func placeholder(v varid.Variable) Value {
	if v.Namespace == varid.Data {
		return TableValue(table.New())
	}
	return ScalarValue(cty.NullVal(cty.DynamicPseudoType))
}

// IsTable reports whether the value is a dataset.
func (v Value) IsTable() bool { return v.Table != nil }

// MarshalJSON writes a table as an array of row objects and a scalar as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Table != nil {
		return v.Table.JSON(table.RenderOptions{})
	}
	return table.ValueToJSON(v.Scalar)
}
