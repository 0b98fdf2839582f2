package table

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// NumberVal converts a float to a cty number. NaN and infinities have no
// JSON representation and become null.
func NumberVal(f float64) cty.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cty.NullVal(cty.Number)
	}
	return cty.NumberFloatVal(f)
}

// ToFloat converts a known, non-null number to float64. Anything else is NaN.
func ToFloat(v cty.Value) float64 {
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return math.NaN()
	}
	f, _ := v.AsBigFloat().Float64()
	return f
}

// FormatNumber renders a float the way the expression language prints numbers.
func FormatNumber(f float64) string {
	if math.Abs(f) >= 1e21 {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TimeOf interprets an epoch-millisecond value in loc.
func TimeOf(ms float64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(int64(math.Floor(ms))).In(loc)
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses a date string. Strings with an explicit offset keep it,
// date-only ISO strings are UTC, and other naive strings are read in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValueFromJSON decodes any JSON document into a cty value.
func ValueFromJSON(raw []byte) (cty.Value, error) {
	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(raw, ty)
}

// ValueToJSON encodes a cty value as plain JSON.
func ValueToJSON(v cty.Value) ([]byte, error) {
	v = plain(v)
	if v.IsNull() {
		return []byte("null"), nil
	}
	return ctyjson.Marshal(v, v.Type())
}

// plain rewrites v so that every null has a concrete type and collections
// become structural types. ctyjson otherwise wraps dynamically typed values
// in a {"value","type"} envelope.
func plain(v cty.Value) cty.Value {
	if v.IsNull() {
		return cty.NullVal(cty.String)
	}
	ty := v.Type()
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		m := v.AsValueMap()
		if len(m) == 0 {
			return cty.EmptyObjectVal
		}
		for k, el := range m {
			m[k] = plain(el)
		}
		return cty.ObjectVal(m)
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		els := v.AsValueSlice()
		if len(els) == 0 {
			return cty.EmptyTupleVal
		}
		for i, el := range els {
			els[i] = plain(el)
		}
		return cty.TupleVal(els)
	}
	return v
}

// Compare orders two values: nulls first, then numbers, then strings, then
// booleans. It returns -1, 0 or 1.
func Compare(a, b cty.Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		fa, fb := ToFloat(a), ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.AsString(), b.AsString())
	case 3:
		if a.True() == b.True() {
			return 0
		}
		if !a.True() {
			return -1
		}
		return 1
	}
	return 0
}

func rank(v cty.Value) int {
	if v.IsNull() || !v.IsKnown() {
		return 0
	}
	switch v.Type() {
	case cty.Number:
		return 1
	case cty.String:
		return 2
	case cty.Bool:
		return 3
	}
	return 4
}

// Key renders a value as a grouping key. Distinct values of different types
// never collide.
func Key(v cty.Value) string {
	if v.IsNull() || !v.IsKnown() {
		return "n:"
	}
	switch v.Type() {
	case cty.Number:
		return "f:" + v.AsBigFloat().Text('g', -1)
	case cty.String:
		return "s:" + v.AsString()
	case cty.Bool:
		return "b:" + strconv.FormatBool(v.True())
	}
	raw, err := ValueToJSON(v)
	if err != nil {
		return "?"
	}
	return "j:" + string(raw)
}

func sortedRowKeys(row map[string]cty.Value) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
