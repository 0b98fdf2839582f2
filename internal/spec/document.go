package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// element is a piece of the document tree that can report whether it was
// modified and write itself back out.
type element interface {
	changed() bool
	encode(buf *bytes.Buffer) error
}

// Object is an order-preserving JSON object. An Object that has not been
// modified (and whose structured children have not been modified) encodes
// to exactly the bytes it was parsed from.
type Object struct {
	raw      []byte
	keys     []string
	fields   map[string]json.RawMessage
	children map[string]element
	modified bool
	// scalar marks an array element that is not a JSON object. It has no
	// members and encodes to its original bytes.
	scalar bool
}

// NewObject creates an empty object that is not backed by source bytes.
func NewObject() *Object {
	return &Object{
		fields:   make(map[string]json.RawMessage),
		children: make(map[string]element),
	}
}

// ParseObject decodes raw as a JSON object, keeping member order and the
// raw bytes of every member value.
func ParseObject(raw []byte) (*Object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Msg: "failed to read object", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &SchemaError{Msg: "expected a JSON object"}
	}

	obj := NewObject()
	obj.raw = raw
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Msg: "failed to read object key", Err: err}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &ParseError{Msg: fmt.Sprintf("unexpected token %v", tok)}
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, &ParseError{Msg: fmt.Sprintf("failed to read value of %q", key), Err: err}
		}
		if _, dup := obj.fields[key]; !dup {
			obj.keys = append(obj.keys, key)
		}
		obj.fields[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Msg: "unterminated object", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Msg: "unexpected data after top-level object"}
	}
	return obj, nil
}

// IsObject reports whether the value is a JSON object. Array elements of
// other kinds are kept as opaque values.
func (o *Object) IsObject() bool { return !o.scalar }

// Keys returns the member names in document order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Has reports whether the object has the named member.
func (o *Object) Has(key string) bool {
	_, ok := o.fields[key]
	return ok
}

// Get returns the current raw JSON of a member. Structured children that
// were modified are re-encoded.
func (o *Object) Get(key string) (json.RawMessage, bool) {
	if c, ok := o.children[key]; ok && c.changed() {
		var buf bytes.Buffer
		if err := c.encode(&buf); err == nil {
			return buf.Bytes(), true
		}
	}
	raw, ok := o.fields[key]
	return raw, ok
}

// String returns a member's value when it is a JSON string.
func (o *Object) String(key string) (string, bool) {
	raw, ok := o.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Set replaces (or appends) a member. Values that are already
// json.RawMessage are stored verbatim.
func (o *Object) Set(key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = raw
	delete(o.children, key)
	o.modified = true
	return nil
}

// Delete removes a member. Deleting a missing member is a no-op.
func (o *Object) Delete(key string) {
	if _, ok := o.fields[key]; !ok {
		return
	}
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
	delete(o.fields, key)
	delete(o.children, key)
	o.modified = true
}

// Object returns the named member as a structured child object, parsing it
// on first access. A missing member yields (nil, nil).
func (o *Object) Object(key string) (*Object, error) {
	if c, ok := o.children[key]; ok {
		if obj, ok := c.(*Object); ok {
			return obj, nil
		}
		return nil, &SchemaError{Path: key, Msg: "expected an object"}
	}
	raw, ok := o.fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	obj, err := ParseObject(raw)
	if err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			return nil, &SchemaError{Path: key, Msg: se.Msg}
		}
		return nil, err
	}
	o.children[key] = obj
	return obj, nil
}

// Array returns the named member as a structured array of objects, parsing
// it on first access. A missing member yields (nil, nil).
func (o *Object) Array(key string) (*Array, error) {
	if c, ok := o.children[key]; ok {
		if arr, ok := c.(*Array); ok {
			return arr, nil
		}
		return nil, &SchemaError{Path: key, Msg: "expected an array"}
	}
	raw, ok := o.fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	arr, err := parseArray(raw)
	if err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			return nil, &SchemaError{Path: key + se.Path, Msg: se.Msg}
		}
		return nil, err
	}
	o.children[key] = arr
	return arr, nil
}

// SetArray binds a structured array to a member, appending the member if
// it does not exist yet.
func (o *Object) SetArray(key string, arr *Array) {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
		o.fields[key] = json.RawMessage("[]")
		o.modified = true
	}
	o.children[key] = arr
	if arr.raw == nil {
		o.modified = true
	}
}

// Changed reports whether encoding would differ from the parsed bytes.
func (o *Object) Changed() bool {
	return o.changed()
}

func (o *Object) changed() bool {
	if o.modified || o.raw == nil {
		return true
	}
	for _, c := range o.children {
		if c.changed() {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the object, reusing original bytes for every
// unchanged subtree.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) encode(buf *bytes.Buffer) error {
	if !o.changed() {
		buf.Write(o.raw)
		return nil
	}
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalValue(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if c, ok := o.children[key]; ok {
			if err := c.encode(buf); err != nil {
				return err
			}
			continue
		}
		buf.Write(o.fields[key])
	}
	buf.WriteByte('}')
	return nil
}

// Array is a JSON array of objects. Elements that are not objects are
// kept verbatim; see Object.IsObject.
type Array struct {
	raw      []byte
	items    []*Object
	modified bool
}

// NewArray creates an empty array that is not backed by source bytes.
func NewArray() *Array {
	return &Array{}
}

func parseArray(raw []byte) (*Array, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Msg: "failed to read array", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, &SchemaError{Msg: "expected an array"}
	}
	arr := &Array{raw: raw}
	for dec.More() {
		var el json.RawMessage
		if err := dec.Decode(&el); err != nil {
			return nil, &ParseError{Msg: "failed to read array element", Err: err}
		}
		obj, err := ParseObject(el)
		if err != nil {
			var se *SchemaError
			if !errors.As(err, &se) {
				return nil, err
			}
			obj = &Object{raw: el, scalar: true}
		}
		arr.items = append(arr.items, obj)
	}
	return arr, nil
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns the i-th element.
func (a *Array) At(i int) *Object { return a.items[i] }

// Items returns the elements in order.
func (a *Array) Items() []*Object {
	out := make([]*Object, len(a.items))
	copy(out, a.items)
	return out
}

// Append adds an element at the end.
func (a *Array) Append(obj *Object) {
	a.items = append(a.items, obj)
	a.modified = true
}

func (a *Array) changed() bool {
	if a.modified || a.raw == nil {
		return true
	}
	for _, it := range a.items {
		if it.changed() {
			return true
		}
	}
	return false
}

func (a *Array) encode(buf *bytes.Buffer) error {
	if !a.changed() {
		buf.Write(a.raw)
		return nil
	}
	buf.WriteByte('[')
	for i, it := range a.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := it.encode(buf); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// marshalValue encodes v without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
