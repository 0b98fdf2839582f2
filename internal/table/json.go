package table

import (
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// TimestampLayout is the naive ISO layout used for timestamps re-expressed
// in an output timezone.
const TimestampLayout = "2006-01-02T15:04:05.000"

// FromJSON decodes a JSON array into a table. Object elements become rows;
// any other element becomes a row with a single "data" column.
func FromJSON(raw []byte) (*Table, error) {
	v, err := ValueFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset values: %w", err)
	}
	return FromValue(v)
}

// FromValue converts a tuple or list of values into a table.
func FromValue(v cty.Value) (*Table, error) {
	ty := v.Type()
	if v.IsNull() || !(ty.IsTupleType() || ty.IsListType() || ty.IsSetType()) {
		return nil, fmt.Errorf("dataset values must be an array, got %s", ty.FriendlyName())
	}
	t := New()
	for it := v.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if !el.IsNull() && (el.Type().IsObjectType() || el.Type().IsMapType()) {
			row := el.AsValueMap()
			if row == nil {
				row = map[string]cty.Value{}
			}
			t.Append(row)
			continue
		}
		t.Append(map[string]cty.Value{"data": el})
	}
	return t, nil
}

// RenderOptions controls how a table is embedded as JSON.
type RenderOptions struct {
	// OutputTZ, when set, renders temporal columns as naive timestamps in
	// that timezone instead of epoch milliseconds.
	OutputTZ *time.Location
}

// JSON encodes the table as an array of row objects.
func (t *Table) JSON(opts RenderOptions) ([]byte, error) {
	if t.Len() == 0 {
		return []byte("[]"), nil
	}
	rows := make([]cty.Value, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) == 0 {
			rows[i] = cty.EmptyObjectVal
			continue
		}
		attrs := make(map[string]cty.Value, len(row))
		for k, v := range row {
			if t.Temporal[k] && opts.OutputTZ != nil {
				v = renderTimestamp(v, opts.OutputTZ)
			}
			attrs[k] = plain(v)
		}
		rows[i] = cty.ObjectVal(attrs)
	}
	v := cty.TupleVal(rows)
	return ctyjson.Marshal(v, v.Type())
}

func renderTimestamp(v cty.Value, loc *time.Location) cty.Value {
	if v.IsNull() || v.Type() != cty.Number {
		return v
	}
	return cty.StringVal(TimeOf(ToFloat(v), loc).Format(TimestampLayout))
}
