package planner

import (
	"github.com/vk/pretransform/internal/table"
)

// registry is the request's read-only set of decoded inline datasets.
type registry struct {
	tables map[string]*table.Table
}

// newRegistry decodes the inline payloads. The first dataset of a given
// name wins; duplicates and undecodable payloads are reported.
func newRegistry(decoder TableDecoder, inline []InlineDataset) (*registry, []Warning) {
	r := &registry{tables: make(map[string]*table.Table, len(inline))}
	var warnings []Warning
	seen := make(map[string]bool, len(inline))
	for _, ds := range inline {
		if seen[ds.Name] {
			warnings = append(warnings, plannerWarning("inline dataset %q was provided more than once; the first one is used", ds.Name))
			continue
		}
		seen[ds.Name] = true
		t, err := decoder.Decode(ds.Table)
		if err != nil {
			warnings = append(warnings, plannerWarning("inline dataset %q could not be decoded: %v", ds.Name, err))
			continue
		}
		r.tables[ds.Name] = t
	}
	return r, warnings
}

func (r *registry) lookup(name string) (*table.Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

func (r *registry) has(name string) bool {
	_, ok := r.tables[name]
	return ok
}
