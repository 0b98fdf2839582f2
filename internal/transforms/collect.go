package transforms

import (
	"fmt"
	"sort"

	"github.com/vk/pretransform/internal/table"
	"github.com/zclconf/go-cty/cty"
)

type sortKey struct {
	field      string
	descending bool
}

func sortKeys(v cty.Value) ([]sortKey, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() || !ty.HasAttribute("field") {
		return nil, fmt.Errorf("sort must be an object with a field")
	}
	fields, err := stringList(v.GetAttr("field"))
	if err != nil {
		return nil, fmt.Errorf("sort field: %w", err)
	}
	var orders []string
	if ty.HasAttribute("order") {
		if orders, err = stringList(v.GetAttr("order")); err != nil {
			return nil, fmt.Errorf("sort order: %w", err)
		}
	}
	keys := make([]sortKey, len(fields))
	for i, f := range fields {
		keys[i] = sortKey{field: f}
		if i < len(orders) {
			switch orders[i] {
			case "descending":
				keys[i].descending = true
			case "ascending", "":
			default:
				return nil, fmt.Errorf("unknown sort order %q", orders[i])
			}
		}
	}
	return keys, nil
}

func stringList(v cty.Value) ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if v.Type() == cty.String {
		return []string{v.AsString()}, nil
	}
	if !isSequence(v) {
		return nil, fmt.Errorf("expected a string or an array of strings")
	}
	var out []string
	for _, el := range v.AsValueSlice() {
		if el.IsNull() || el.Type() != cty.String {
			return nil, fmt.Errorf("expected a string or an array of strings")
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

// collect materializes the rows, stably sorted when a sort is given.
func collect(p params, in *table.Table) (*table.Table, error) {
	v, ok, err := p.value("sort")
	if err != nil {
		return nil, err
	}
	var keys []sortKey
	if ok {
		if keys, err = sortKeys(v); err != nil {
			return nil, err
		}
	}
	out := in.Derive()
	out.Rows = append(out.Rows, in.Rows...)
	if len(keys) == 0 {
		return out, nil
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		for _, k := range keys {
			c := table.Compare(get(out.Rows[i], k.field), get(out.Rows[j], k.field))
			if c == 0 {
				continue
			}
			if k.descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out, nil
}

// project keeps only the listed fields, optionally renamed. Without fields
// every row is copied as is.
func project(p params, in *table.Table) (*table.Table, error) {
	fields, err := p.fields("fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return in.Clone(), nil
	}
	as, err := p.strings("as")
	if err != nil {
		return nil, err
	}
	cols := names(as, fields)

	out := table.New(cols...)
	for i, f := range fields {
		if in.Temporal[f] {
			out.SetTemporal(cols[i], true)
		}
	}
	for _, row := range in.Rows {
		next := make(map[string]cty.Value, len(fields))
		for i, f := range fields {
			v := get(row, f)
			if v.IsNull() {
				if _, present := row[f]; !present {
					continue
				}
			}
			next[cols[i]] = v
		}
		out.Rows = append(out.Rows, next)
	}
	return out, nil
}
