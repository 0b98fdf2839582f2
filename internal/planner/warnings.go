package planner

import (
	"encoding/json"
	"fmt"

	"github.com/vk/pretransform/internal/varid"
)

// WarningKind classifies a Warning. Kinds are listed in output order.
type WarningKind int

const (
	// RowLimit lists datasets truncated to the row limit.
	RowLimit WarningKind = iota
	// BrokenInteractivity lists interactive variables whose consumers were
	// evaluated once and will not update while rendering.
	BrokenInteractivity
	// Unsupported lists variables left for the renderer because they use a
	// construct that cannot be evaluated ahead of time.
	Unsupported
	// KindPlanner is any other degraded outcome, described by its message.
	KindPlanner
)

var kindNames = [...]string{"RowLimit", "BrokenInteractivity", "Unsupported", "Planner"}

func (k WarningKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
	return kindNames[k]
}

var kindMessages = map[WarningKind]string{
	RowLimit:            "Some datasets were truncated to the row limit",
	BrokenInteractivity: "Some interactive variables were evaluated once and will no longer update",
	Unsupported:         "Some variables use constructs that cannot be pre-transformed and were left for the renderer",
}

// Warning is an informational diagnostic. It never aborts a response.
type Warning struct {
	Kind    WarningKind
	Vars    []varid.Variable
	Message string
}

// MarshalJSON encodes the warning as {"type", "vars", "message"}.
func (w Warning) MarshalJSON() ([]byte, error) {
	vars := make([]string, len(w.Vars))
	for i, v := range w.Vars {
		vars[i] = v.String()
	}
	return json.Marshal(struct {
		Type    string   `json:"type"`
		Vars    []string `json:"vars"`
		Message string   `json:"message"`
	}{w.Kind.String(), vars, w.Message})
}

// collector accumulates warnings for one request. RowLimit,
// BrokenInteractivity and Unsupported collapse into one entry each; Planner
// entries are keyed by message and a variable joins at most one of them.
type collector struct {
	byKind    [KindPlanner]*Warning
	seen      [KindPlanner + 1]map[varid.Variable]struct{}
	planner   []*Warning
	byMessage map[string]*Warning
}

func newCollector() *collector {
	c := &collector{byMessage: make(map[string]*Warning)}
	for i := range c.seen {
		c.seen[i] = make(map[varid.Variable]struct{})
	}
	return c
}

func (c *collector) add(w Warning) {
	if w.Kind < RowLimit || w.Kind > KindPlanner {
		return
	}
	seen := c.seen[w.Kind]
	var vars []varid.Variable
	for _, v := range w.Vars {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		vars = append(vars, v)
	}

	if w.Kind != KindPlanner {
		if len(vars) == 0 {
			return
		}
		entry := c.byKind[w.Kind]
		if entry == nil {
			entry = &Warning{Kind: w.Kind, Message: kindMessages[w.Kind]}
			c.byKind[w.Kind] = entry
		}
		entry.Vars = append(entry.Vars, vars...)
		return
	}

	entry, ok := c.byMessage[w.Message]
	if !ok {
		entry = &Warning{Kind: KindPlanner, Message: w.Message}
		c.byMessage[w.Message] = entry
		c.planner = append(c.planner, entry)
	}
	entry.Vars = append(entry.Vars, vars...)
}

func (c *collector) addAll(ws []Warning) {
	for _, w := range ws {
		c.add(w)
	}
}

// list returns the warnings in kind order, then first-seen order.
func (c *collector) list() []Warning {
	out := make([]Warning, 0, len(c.byKind)+len(c.planner))
	for _, w := range c.byKind {
		if w != nil {
			out = append(out, *w)
		}
	}
	for _, w := range c.planner {
		out = append(out, *w)
	}
	return out
}

func plannerWarning(format string, args ...any) Warning {
	return Warning{Kind: KindPlanner, Message: fmt.Sprintf(format, args...)}
}
