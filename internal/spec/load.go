package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vk/pretransform/internal/expr"
)

// builtinSignals are top-level properties that also act as signals.
var builtinSignals = []string{"width", "height", "padding", "autosize", "background"}

// Loader parses spec text into a Chart.
type Loader struct {
	// CacheSize bounds the per-load expression cache.
	CacheSize int
}

// NewLoader creates a loader with the default expression cache size.
func NewLoader() *Loader {
	return &Loader{CacheSize: expr.DefaultCacheSize}
}

// Load parses text. Each call uses its own expression cache, so charts
// loaded concurrently share no state.
func (l *Loader) Load(text string) (*Chart, error) {
	root, err := ParseObject([]byte(text))
	if err != nil {
		return nil, err
	}
	p := &parser{compiler: expr.NewCompiler(l.CacheSize)}
	group, err := p.group(root, "")
	if err != nil {
		return nil, err
	}

	builtins := make(map[string]json.RawMessage)
	for _, name := range builtinSignals {
		if raw, ok := root.Get(name); ok {
			builtins[name] = raw
		}
	}
	return &Chart{Root: group, Builtins: builtins, Problems: p.problems, doc: root}, nil
}

// Load parses text with a default Loader.
func Load(text string) (*Chart, error) {
	return NewLoader().Load(text)
}

type parser struct {
	compiler *expr.Compiler
	problems []*SchemaError
}

// skip records a schema error confined to one signal or dataset entry. The
// entry keeps its bytes but gets no model; other errors are returned as is.
func (p *parser) skip(err error) error {
	var se *SchemaError
	if errors.As(err, &se) {
		p.problems = append(p.problems, se)
		return nil
	}
	return err
}

// within prefixes the location of a schema error with path.
func within(path string, err error) error {
	var se *SchemaError
	if errors.As(err, &se) {
		return &SchemaError{Path: path + "." + se.Path, Msg: se.Msg}
	}
	return err
}

func (p *parser) group(obj *Object, path string) (*Group, error) {
	g := &Group{obj: obj}
	if name, ok := obj.String("name"); ok {
		g.Name = name
	}

	signals, err := obj.Array("signals")
	if err != nil {
		return nil, err
	}
	if signals != nil {
		g.signals = signals
		for i, item := range signals.Items() {
			s, err := p.signal(item, fmt.Sprintf("%ssignals[%d]", path, i))
			if err != nil {
				if err := p.skip(err); err != nil {
					return nil, err
				}
				continue
			}
			g.Signals = append(g.Signals, s)
		}
	}

	data, err := obj.Array("data")
	if err != nil {
		return nil, err
	}
	if data != nil {
		for i, item := range data.Items() {
			d, err := p.data(item, fmt.Sprintf("%sdata[%d]", path, i))
			if err != nil {
				if err := p.skip(err); err != nil {
					return nil, err
				}
				continue
			}
			g.Data = append(g.Data, d)
		}
	}

	marks, err := obj.Array("marks")
	if err != nil {
		return nil, err
	}
	if marks == nil {
		return g, nil
	}
	for i, mark := range marks.Items() {
		if typ, _ := mark.String("type"); typ != "group" {
			continue
		}
		markPath := fmt.Sprintf("%smarks[%d].", path, i)
		child, err := p.group(mark, markPath)
		if err != nil {
			return nil, err
		}
		from, err := mark.Object("from")
		if err != nil {
			return nil, &SchemaError{Path: markPath + "from", Msg: err.Error()}
		}
		if from != nil {
			facet, err := parseFacet(from, markPath)
			if err != nil {
				return nil, err
			}
			child.Facet = facet
			child.Dynamic = facet != nil || from.Has("data")
		}
		g.Groups = append(g.Groups, child)
	}
	return g, nil
}

func parseFacet(from *Object, path string) (*Facet, error) {
	raw, ok := from.Get("facet")
	if !ok {
		return nil, nil
	}
	var f struct {
		Name    string          `json:"name"`
		Data    string          `json:"data"`
		Groupby json.RawMessage `json:"groupby"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &SchemaError{Path: path + "from.facet", Msg: err.Error()}
	}
	if f.Name == "" || f.Data == "" {
		return nil, &SchemaError{Path: path + "from.facet", Msg: "facet requires name and data"}
	}
	facet := &Facet{Name: f.Name, Data: f.Data}
	facet.Groupby, _ = stringOrList(f.Groupby)
	return facet, nil
}

func (p *parser) data(obj *Object, path string) (*Data, error) {
	if !obj.IsObject() {
		return nil, &SchemaError{Path: path, Msg: "expected an object"}
	}
	name, ok := obj.String("name")
	if !ok || name == "" {
		return nil, &SchemaError{Path: path, Msg: "dataset requires a name"}
	}
	d := &Data{Name: name, obj: obj}

	if raw, ok := obj.Get("values"); ok && !isNull(raw) {
		d.Values = raw
	}
	if raw, ok := obj.Get("source"); ok {
		src, err := stringOrList(raw)
		if err != nil {
			return nil, &SchemaError{Path: path + ".source", Msg: err.Error()}
		}
		d.Source = src
	}
	if raw, ok := obj.Get("url"); ok && !isNull(raw) {
		param := p.param(raw)
		switch {
		case param.Signal != nil:
			d.URL = &URL{Signal: param.Signal}
		default:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, &SchemaError{Path: path + ".url", Msg: "url must be a string or signal reference"}
			}
			d.URL = &URL{Literal: s}
		}
	}
	if raw, ok := obj.Get("format"); ok && !isNull(raw) {
		f, err := parseFormat(raw)
		if err != nil {
			return nil, &SchemaError{Path: path + ".format", Msg: err.Error()}
		}
		d.Format = f
	}

	transforms, err := obj.Array("transform")
	if err != nil {
		return nil, within(path, err)
	}
	if transforms != nil {
		for _, item := range transforms.Items() {
			d.Transforms = append(d.Transforms, p.transform(item))
		}
	}

	triggers, err := obj.Array("on")
	if err != nil {
		return nil, within(path, err)
	}
	if triggers != nil {
		d.interactive = triggers.Len() > 0
		for _, item := range triggers.Items() {
			for _, key := range item.Keys() {
				if s, ok := item.String(key); ok {
					d.Triggers = append(d.Triggers, p.compiler.Compile(s))
				}
			}
		}
	}
	return d, nil
}

func parseFormat(raw json.RawMessage) (*Format, error) {
	var f struct {
		Type     string          `json:"type"`
		Property string          `json:"property"`
		Parse    json.RawMessage `json:"parse"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	out := &Format{Type: f.Type, Property: f.Property}
	if len(f.Parse) > 0 && bytes.HasPrefix(bytes.TrimSpace(f.Parse), []byte("{")) {
		if err := json.Unmarshal(f.Parse, &out.Parse); err != nil {
			return nil, fmt.Errorf("parse must map fields to types: %w", err)
		}
	}
	return out, nil
}

func (p *parser) signal(obj *Object, path string) (*Signal, error) {
	if !obj.IsObject() {
		return nil, &SchemaError{Path: path, Msg: "expected an object"}
	}
	name, ok := obj.String("name")
	if !ok || name == "" {
		return nil, &SchemaError{Path: path, Msg: "signal requires a name"}
	}
	s := &Signal{Name: name, obj: obj}

	if raw, ok := obj.Get("value"); ok {
		s.Value = raw
	}
	if src, ok := obj.String("init"); ok {
		s.Init = p.compiler.Compile(src)
	}
	if src, ok := obj.String("update"); ok {
		s.Update = p.compiler.Compile(src)
	}
	if obj.Has("bind") {
		s.Bind = true
	}
	if push, ok := obj.String("push"); ok && push == "outer" {
		s.PushOuter = true
	}

	handlers, err := obj.Array("on")
	if err != nil {
		return nil, within(path, err)
	}
	if handlers == nil {
		return s, nil
	}
	for _, item := range handlers.Items() {
		h := &Handler{}
		if src, ok := item.String("update"); ok {
			h.Update = p.compiler.Compile(src)
		}
		if raw, ok := item.Get("events"); ok {
			h.EventSignals = eventSignals(raw)
		}
		s.Handlers = append(s.Handlers, h)
	}
	return s, nil
}

// eventSignals finds {"signal": name} event sources, alone or in an array.
func eventSignals(raw json.RawMessage) []string {
	var single struct {
		Signal string `json:"signal"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Signal != "" {
		return []string{single.Signal}
	}
	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	var out []string
	for _, m := range many {
		out = append(out, eventSignals(m)...)
	}
	return out
}

func (p *parser) transform(obj *Object) *Transform {
	t := &Transform{Params: make(map[string]Param), obj: obj}
	t.Type, _ = obj.String("type")
	t.Kind = kindsByName[t.Type]

	for _, key := range obj.Keys() {
		if key == "type" {
			continue
		}
		raw, _ := obj.Get(key)
		t.Params[key] = p.param(raw)
	}
	if t.Kind == KindFilter || t.Kind == KindFormula {
		if src, ok := obj.String("expr"); ok {
			t.Expr = p.compiler.Compile(src)
		}
	}
	return t
}

// param decodes a parameter value, compiling {"signal": expr} references.
func (p *parser) param(raw json.RawMessage) Param {
	out := Param{Raw: raw}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		var ref map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &ref); err != nil || len(ref) != 1 {
			return out
		}
		var src string
		if sig, ok := ref["signal"]; ok && json.Unmarshal(sig, &src) == nil {
			out.Signal = p.compiler.Compile(src)
		}
	case bytes.HasPrefix(trimmed, []byte("[")):
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return out
		}
		parsed := make([]Param, len(items))
		dynamic := false
		for i, it := range items {
			parsed[i] = p.param(it)
			if !parsed[i].Literal() {
				dynamic = true
			}
		}
		if dynamic {
			out.Items = parsed
		}
	}
	return out
}

func stringOrList(raw json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected a string or an array of strings")
	}
	return list, nil
}
