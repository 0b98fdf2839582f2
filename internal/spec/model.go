package spec

import (
	"bytes"
	"encoding/json"

	"github.com/vk/pretransform/internal/expr"
)

// Chart is a loaded spec.
type Chart struct {
	Root *Group
	// Builtins holds top-level properties that define implicit signals,
	// such as width and height, as raw JSON.
	Builtins map[string]json.RawMessage
	// Problems are schema errors confined to single signal or dataset
	// entries. Such entries are left in the document untouched but are not
	// part of the model.
	Problems []*SchemaError

	doc *Object
}

// Marshal re-encodes the spec, reusing original bytes for everything that
// was not modified.
func (c *Chart) Marshal() ([]byte, error) {
	return c.doc.MarshalJSON()
}

// Group is the top level of a spec or a group mark. Both may define data
// and signals and contain nested group marks.
type Group struct {
	Data    []*Data
	Signals []*Signal
	// Groups are nested group marks, in order. A group's index in this slice
	// is its scope index.
	Groups []*Group
	// Dynamic is true when the number of group instances is only known at
	// render time (faceted or data-driven group marks).
	Dynamic bool
	// Facet is set for faceted group marks.
	Facet *Facet
	Name  string

	obj     *Object
	signals *Array
}

// AppendSignal adds a literal signal definition {"name", "value"} at the
// end of the group's signals array, creating the array if necessary.
func (g *Group) AppendSignal(name string, value json.RawMessage) error {
	obj := NewObject()
	if err := obj.Set("name", name); err != nil {
		return err
	}
	if err := obj.Set("value", value); err != nil {
		return err
	}
	if g.signals == nil {
		g.signals = NewArray()
		g.obj.SetArray("signals", g.signals)
	}
	g.signals.Append(obj)
	return nil
}

// HasSignal reports whether the group declares a signal with the given name.
func (g *Group) HasSignal(name string) bool {
	for _, s := range g.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Facet describes a faceted group mark: one group instance per partition
// of Data, each seeing its partition as the dataset Name.
type Facet struct {
	Name    string
	Data    string
	Groupby []string
}

// Data is a dataset definition.
type Data struct {
	Name string
	// Values is the literal inline array, if present.
	Values json.RawMessage
	// Source lists upstream datasets whose rows are concatenated.
	Source []string
	URL    *URL
	Format *Format
	// Transforms is the dataset's pipeline, in order.
	Transforms []*Transform
	// Triggers are expressions from the `on` array; a dataset with triggers
	// is modified while rendering.
	Triggers []*expr.Expr

	obj         *Object
	interactive bool
}

// Object returns the dataset's underlying document node.
func (d *Data) Object() *Object { return d.obj }

// HasValues reports whether the dataset carries a literal values array.
func (d *Data) HasValues() bool { return d.Values != nil }

// Interactive reports whether the dataset is modified while rendering.
func (d *Data) Interactive() bool { return d.interactive }

// Inline replaces how the dataset is computed with literal values. The
// transforms from index keep onward stay in the pipeline; the rest, along
// with source, url and format, are removed.
func (d *Data) Inline(values json.RawMessage, keep int) error {
	if err := d.obj.Set("values", values); err != nil {
		return err
	}
	for _, key := range []string{"source", "url", "format"} {
		d.obj.Delete(key)
	}
	if keep >= len(d.Transforms) {
		d.obj.Delete("transform")
		return nil
	}
	arr := NewArray()
	for _, tr := range d.Transforms[keep:] {
		arr.Append(tr.obj)
	}
	d.obj.SetArray("transform", arr)
	return nil
}

// URL is a dataset url, either literal or computed by a signal expression.
type URL struct {
	Literal string
	Signal  *expr.Expr
}

// InlineName returns the dataset name for urls that refer to a
// caller-provided inline dataset (table://NAME or vegafusion+dataset://NAME).
func (u *URL) InlineName() (string, bool) {
	if u == nil || u.Signal != nil {
		return "", false
	}
	for _, prefix := range []string{"table://", "vegafusion+dataset://"} {
		if len(u.Literal) > len(prefix) && u.Literal[:len(prefix)] == prefix {
			return u.Literal[len(prefix):], true
		}
	}
	return "", false
}

// Format is a dataset's format block.
type Format struct {
	Type     string
	Property string
	Parse    map[string]string
}

// Signal is a signal definition.
type Signal struct {
	Name     string
	Value    json.RawMessage
	Init     *expr.Expr
	Update   *expr.Expr
	Handlers []*Handler
	Bind     bool
	// PushOuter marks a signal that forwards to the same-named signal of
	// an enclosing scope instead of defining a new one.
	PushOuter bool

	obj *Object
}

// Object returns the signal's underlying document node.
func (s *Signal) Object() *Object { return s.obj }

// HasValue reports whether the signal declares a literal value.
func (s *Signal) HasValue() bool { return s.Value != nil }

// Interactive reports whether the signal changes in response to events or
// bound input widgets.
func (s *Signal) Interactive() bool { return len(s.Handlers) > 0 || s.Bind }

// Initial returns the expression computing the initial value, if any.
func (s *Signal) Initial() *expr.Expr {
	if s.Init != nil {
		return s.Init
	}
	return s.Update
}

// SetValue writes the signal's literal value. Unless keepLive is set, init
// and update are removed so the value is final.
func (s *Signal) SetValue(raw json.RawMessage, keepLive bool) error {
	if existing, ok := s.obj.Get("value"); ok && bytes.Equal(existing, raw) && keepLive {
		return nil
	}
	if err := s.obj.Set("value", raw); err != nil {
		return err
	}
	if !keepLive {
		s.obj.Delete("init")
		s.obj.Delete("update")
	}
	return nil
}

// Handler is one entry of a signal's `on` array.
type Handler struct {
	Update *expr.Expr
	// EventSignals are signals used as event sources ({"signal": name}).
	EventSignals []string
}
