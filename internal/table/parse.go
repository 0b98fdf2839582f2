package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// ApplyParse converts string columns according to a format.parse
// specification: "number", "boolean", "date" (optionally "date:<pattern>")
// or "string". Unparseable entries become null.
func ApplyParse(t *Table, parse map[string]string, loc *time.Location) (*Table, error) {
	if len(parse) == 0 {
		return t, nil
	}
	out := t.Clone()
	for column, kind := range parse {
		base := strings.SplitN(kind, ":", 2)[0]
		var conv func(cty.Value) cty.Value
		switch base {
		case "number":
			conv = parseNumber
		case "boolean":
			conv = parseBoolean
		case "date", "utc":
			dateLoc := loc
			if base == "utc" {
				dateLoc = time.UTC
			}
			conv = func(v cty.Value) cty.Value { return parseDateValue(v, dateLoc) }
			out.SetTemporal(column, true)
		case "string":
			conv = parseString
		default:
			return nil, fmt.Errorf("unsupported parse type %q for column %q", kind, column)
		}
		for _, row := range out.Rows {
			if v, ok := row[column]; ok {
				row[column] = conv(v)
			}
		}
	}
	return out, nil
}

func parseNumber(v cty.Value) cty.Value {
	if v.IsNull() {
		return v
	}
	switch v.Type() {
	case cty.Number:
		return v
	case cty.String:
		s := strings.TrimSpace(v.AsString())
		if s == "" {
			return cty.NullVal(cty.Number)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return cty.NullVal(cty.Number)
		}
		return NumberVal(f)
	case cty.Bool:
		if v.True() {
			return cty.NumberIntVal(1)
		}
		return cty.NumberIntVal(0)
	}
	return cty.NullVal(cty.Number)
}

func parseBoolean(v cty.Value) cty.Value {
	if v.IsNull() {
		return v
	}
	switch v.Type() {
	case cty.Bool:
		return v
	case cty.String:
		s := strings.TrimSpace(strings.ToLower(v.AsString()))
		if s == "" {
			return cty.NullVal(cty.Bool)
		}
		return cty.BoolVal(s == "true" || s == "1")
	case cty.Number:
		return cty.BoolVal(ToFloat(v) != 0)
	}
	return cty.NullVal(cty.Bool)
}

func parseDateValue(v cty.Value, loc *time.Location) cty.Value {
	if v.IsNull() {
		return v
	}
	switch v.Type() {
	case cty.Number:
		return v
	case cty.String:
		if ts, ok := ParseDate(v.AsString(), loc); ok {
			return cty.NumberIntVal(ts.UnixMilli())
		}
	}
	return cty.NullVal(cty.Number)
}

func parseString(v cty.Value) cty.Value {
	if v.IsNull() {
		return v
	}
	switch v.Type() {
	case cty.String:
		return v
	case cty.Number:
		return cty.StringVal(FormatNumber(ToFloat(v)))
	case cty.Bool:
		return cty.StringVal(strconv.FormatBool(v.True()))
	}
	return v
}
