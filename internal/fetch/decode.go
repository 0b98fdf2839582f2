package fetch

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// decodeJSON reads a JSON document, descending into a dotted property path
// when one is given.
func decodeJSON(body []byte, property string) (*table.Table, error) {
	v, err := table.ValueFromJSON(body)
	if err != nil {
		return nil, fmt.Errorf("invalid json dataset: %w", err)
	}
	if property != "" {
		for _, part := range strings.Split(property, ".") {
			ty := v.Type()
			if v.IsNull() || !ty.IsObjectType() || !ty.HasAttribute(part) {
				return nil, fmt.Errorf("json dataset has no property %q", property)
			}
			v = v.GetAttr(part)
		}
	}
	return table.FromValue(v)
}

// decodeDelimited reads a delimited text document with a header row. Values
// stay strings; format.parse converts them.
func decodeDelimited(body []byte, sep rune) (*table.Table, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = sep
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid delimited dataset: %w", err)
	}
	if len(records) == 0 {
		return table.New(), nil
	}
	header := records[0]
	out := table.New(header...)
	for _, rec := range records[1:] {
		row := make(map[string]cty.Value, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = cty.StringVal(rec[i])
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
