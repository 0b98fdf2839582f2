package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func evalString(t *testing.T, env *Env, datum cty.Value, src string) cty.Value {
	t.Helper()
	e := NewCompiler(4).Compile(src)
	require.NoError(t, e.Err)
	ctx := env.EvalContext()
	if datum != cty.NilVal {
		ctx = WithDatum(ctx, datum)
	}
	v, err := e.Value(ctx)
	require.NoError(t, err)
	return v
}

func assertValue(t *testing.T, want, got cty.Value) {
	t.Helper()
	require.True(t, got.Type().Equals(want.Type()), "got type %s, want %s", got.Type().FriendlyName(), want.Type().FriendlyName())
	assert.True(t, want.Equals(got).True(), "got %#v, want %#v", got, want)
}

func TestEval_SignalsAndDatum(t *testing.T) {
	t.Parallel()

	env := &Env{Signals: map[string]cty.Value{"threshold": cty.NumberIntVal(3)}}
	datum := cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(5), "kind": cty.StringVal("x")})

	assertValue(t, cty.True, evalString(t, env, datum, "datum.a > threshold && datum.kind === 'x'"))
	assertValue(t, cty.NumberIntVal(10), evalString(t, env, datum, "datum.a * 2"))
	assertValue(t, cty.StringVal("big"), evalString(t, env, datum, "if(datum.a > 4, 'big', 'small')"))
}

func TestEval_Functions(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	env := &Env{
		LocalTZ: ny,
		InputTZ: time.UTC,
		Now:     func() time.Time { return time.UnixMilli(1_000) },
		Data: map[string]cty.Value{
			"table": cty.TupleVal([]cty.Value{
				cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)}),
				cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(2)}),
			}),
		},
	}

	testCases := []struct {
		src  string
		want cty.Value
	}{
		{"length(data('table'))", cty.NumberIntVal(2)},
		{"now()", cty.NumberIntVal(1000)},
		{"utc(2020, 0, 1)", cty.NumberIntVal(1577836800000)},
		{"datetime(2020, 0, 1)", cty.NumberIntVal(1577854800000)},
		{"utcyear(1577836800000)", cty.NumberIntVal(2020)},
		{"year(1577836800000)", cty.NumberIntVal(2019)},
		{"toDate('2020-01-01T00:00:00')", cty.NumberIntVal(1577836800000)},
		{"isValid(null)", cty.False},
		{"toNumber('2.5')", cty.NumberFloatVal(2.5)},
		{"round(2.5)", cty.NumberFloatVal(3)},
		{"clamp(10, 0, 5)", cty.NumberFloatVal(5)},
		{"substring('hello', 1, 3)", cty.StringVal("el")},
		{"indexof('hello', 'l')", cty.NumberIntVal(2)},
		{"upper('ab')", cty.StringVal("AB")},
		{"toString(3)", cty.StringVal("3")},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			assertValue(t, tc.want, evalString(t, env, cty.NilVal, tc.src))
		})
	}
}

func TestEval_Operators(t *testing.T) {
	t.Parallel()

	datum := cty.ObjectVal(map[string]cty.Value{
		"a":    cty.NumberIntVal(5),
		"zero": cty.NumberIntVal(0),
		"s":    cty.StringVal("x"),
		"t":    cty.StringVal("y"),
		"n":    cty.NullVal(cty.DynamicPseudoType),
		"list": cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)}),
	})

	testCases := []struct {
		src  string
		want cty.Value
	}{
		{"datum.a || 0", cty.NumberIntVal(5)},
		{"datum.zero || 'fallback'", cty.StringVal("fallback")},
		{"datum.a && datum.s", cty.StringVal("x")},
		{"datum.zero && datum.s", cty.NumberIntVal(0)},
		{"datum.n || datum.a", cty.NumberIntVal(5)},
		{"datum.a > 1 ? 1 : 'no'", cty.NumberIntVal(1)},
		{"datum.a < 1 ? 1 : 'no'", cty.StringVal("no")},
		{"datum.s + datum.t", cty.StringVal("xy")},
		{"datum.s + datum.a", cty.StringVal("x5")},
		{"'n=' + datum.n", cty.StringVal("n=null")},
		{"datum.a + true", cty.NumberIntVal(6)},
		{"!datum.s", cty.False},
		{"-datum.a", cty.NumberIntVal(-5)},
		{"datum.a == '5'", cty.True},
		{"datum.n === null", cty.True},
		{"datum.n == 0", cty.False},
		{"'b' > 'a'", cty.True},
		{"datum.s > 1", cty.False},
		{"datum.missing", cty.NullVal(cty.DynamicPseudoType)},
		{"datum['a']", cty.NumberIntVal(5)},
		{"datum.list[1]", cty.NumberIntVal(2)},
		{"datum.list.length", cty.NumberIntVal(2)},
		{"datum.s.length", cty.NumberIntVal(1)},
		{"datum.zero && datum.n.x", cty.NumberIntVal(0)},
		{"datum.a / 2", cty.NumberFloatVal(2.5)},
		{"datum.a % 3", cty.NumberIntVal(2)},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			got := evalString(t, &Env{}, datum, tc.src)
			if tc.want.IsNull() {
				assert.True(t, got.IsNull(), "got %#v, want null", got)
				return
			}
			assert.True(t, tc.want.Equals(got).True(), "got %#v, want %#v", got, tc.want)
		})
	}
}

func TestEval_RowErrors(t *testing.T) {
	t.Parallel()

	datum := cty.ObjectVal(map[string]cty.Value{"n": cty.NullVal(cty.DynamicPseudoType)})
	for _, src := range []string{"datum.n.x", "datum.n && datum.n.x || datum.n.y"} {
		e := NewCompiler(4).Compile(src)
		require.NoError(t, e.Err)
		_, err := e.Value(WithDatum((&Env{}).EvalContext(), datum))
		assert.ErrorContains(t, err, "cannot read property")
	}
}

func TestEval_SelectionTest(t *testing.T) {
	t.Parallel()

	storeRow := func(field, typ string, values cty.Value) cty.Value {
		return cty.ObjectVal(map[string]cty.Value{
			"unit": cty.StringVal(""),
			"fields": cty.TupleVal([]cty.Value{cty.ObjectVal(map[string]cty.Value{
				"field": cty.StringVal(field),
				"type":  cty.StringVal(typ),
			})}),
			"values": cty.TupleVal([]cty.Value{values}),
		})
	}
	pair := func(lo, hi int64) cty.Value {
		return cty.TupleVal([]cty.Value{cty.NumberIntVal(lo), cty.NumberIntVal(hi)})
	}
	env := &Env{Data: map[string]cty.Value{
		"empty": cty.EmptyTupleVal,
		"range": cty.TupleVal([]cty.Value{storeRow("a", "R", pair(5, 2))}),
		"open":  cty.TupleVal([]cty.Value{storeRow("a", "R-E", pair(2, 5))}),
		"both": cty.TupleVal([]cty.Value{
			storeRow("a", "R", pair(0, 3)),
			storeRow("k", "E", cty.TupleVal([]cty.Value{cty.StringVal("x"), cty.StringVal("y")})),
		}),
		"point": cty.TupleVal([]cty.Value{storeRow("k", "E", cty.StringVal("x"))}),
		"bad":   cty.TupleVal([]cty.Value{storeRow("a", "Q", pair(0, 1))}),
	}}
	row := func(a int64, k string) cty.Value {
		return cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(a), "k": cty.StringVal(k)})
	}

	testCases := []struct {
		name  string
		src   string
		datum cty.Value
		want  bool
	}{
		{"empty store selects nothing", "vlSelectionTest('empty', datum)", row(1, "x"), false},
		{"inclusive range", "vlSelectionTest('range', datum)", row(5, "x"), true},
		{"outside range", "vlSelectionTest('range', datum)", row(6, "x"), false},
		{"exclusive range", "vlSelectionTest('open', datum)", row(5, "x"), false},
		{"union matches either row", "vlSelectionTest('both', datum)", row(9, "y"), true},
		{"intersect needs every row", "vlSelectionTest('both', datum, 'intersect')", row(9, "y"), false},
		{"intersect", "vlSelectionTest('both', datum, 'intersect')", row(1, "x"), true},
		{"single enum value", "vlSelectionTest('point', datum)", row(0, "x"), true},
		{"negated", "!vlSelectionTest('point', datum)", row(0, "z"), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assertValue(t, cty.BoolVal(tc.want), evalString(t, env, tc.datum, tc.src))
		})
	}

	t.Run("invalid store", func(t *testing.T) {
		e := NewCompiler(4).Compile("vlSelectionTest('bad', datum)")
		require.NoError(t, e.Err)
		_, err := e.Value(WithDatum(env.EvalContext(), row(0, "x")))
		assert.ErrorContains(t, err, `selection type "Q" is not supported`)
	})

	t.Run("missing store", func(t *testing.T) {
		e := NewCompiler(4).Compile("vlSelectionTest('nope', datum)")
		require.NoError(t, e.Err)
		_, err := e.Value(WithDatum(env.EvalContext(), row(0, "x")))
		assert.ErrorContains(t, err, `dataset "nope" is not available`)
	})
}

func TestEval_MissingSignalFails(t *testing.T) {
	t.Parallel()

	e := NewCompiler(4).Compile("unknownSignal + 1")
	require.NoError(t, e.Err)
	_, err := e.Value((&Env{}).EvalContext())
	assert.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(cty.NullVal(cty.Number)))
	assert.False(t, Truthy(cty.NumberIntVal(0)))
	assert.True(t, Truthy(cty.NumberIntVal(2)))
	assert.False(t, Truthy(cty.StringVal("")))
	assert.True(t, Truthy(cty.StringVal("x")))
	assert.True(t, Truthy(cty.EmptyObjectVal))
}
