package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
	"github.com/vk/pretransform/internal/transforms"
	"github.com/vk/pretransform/internal/varid"
	"github.com/zclconf/go-cty/cty"
)

const staticSpec = `{
  "signals": [{"name": "k", "value": 2}, {"name": "double", "update": "k * 2"}],
  "data": [
    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
    {"name": "filtered", "source": "source", "transform": [
      {"type": "filter", "expr": "datum.a >= k"},
      {"type": "extent", "field": "a", "signal": "ext"}
    ]}
  ],
  "marks": [{"type": "rect", "encode": {"enter": {"fill": {"value": "red"}}}}]
}`

const interactiveSpec = `{
  "signals": [{"name": "thr", "value": 1, "bind": {"input": "range"}}],
  "data": [
    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
    {"name": "scaled", "source": "source", "transform": [
      {"type": "formula", "expr": "datum.a * 10", "as": "b"},
      {"type": "filter", "expr": "datum.a > thr"}
    ]}
  ]
}`

const staticRewritten = `{
  "signals": [{"name": "k", "value": 2}, {"name": "double", "value": 4}, {"name": "ext", "value": [2, 3]}],
  "data": [
    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
    {"name": "filtered", "values": [{"a": 2}, {"a": 3}]}
  ],
  "marks": [{"type": "rect", "encode": {"enter": {"fill": {"value": "red"}}}}]
}`

func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func preTransformSpec(t *testing.T, p *Planner, req SpecRequest) *SpecResponse {
	t.Helper()
	resp, err := p.PreTransformSpec(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func preTransformValues(t *testing.T, p *Planner, req ValuesRequest) *ValuesResponse {
	t.Helper()
	resp, err := p.PreTransformValues(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Len(t, resp.Values, len(req.Opts.Variables))
	return resp
}

func valueJSON(t *testing.T, v Value) string {
	t.Helper()
	raw, err := v.MarshalJSON()
	require.NoError(t, err)
	return string(raw)
}

func varRequest(name string, scope ...int) VariableRequest {
	v := varid.NewSignal(strings.TrimPrefix(name, "signal."))
	if rest, ok := strings.CutPrefix(name, "data."); ok {
		v = varid.NewData(rest)
	}
	return VariableRequest{Variable: v, Scope: varid.Scope(scope)}
}

func TestPreTransformSpec_InlinesEvaluableData(t *testing.T) {
	resp := preTransformSpec(t, New(), SpecRequest{Spec: staticSpec, LocalTZ: "UTC"})

	assert.Empty(t, resp.Warnings)
	assert.JSONEq(t, staticRewritten, resp.Spec)

	_, err := spec.Load(resp.Spec)
	assert.NoError(t, err, "output must load again")
}

func TestPreTransformSpec_Interactivity(t *testing.T) {
	t.Run("preserved", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{Spec: interactiveSpec, LocalTZ: "UTC"})

		assert.Empty(t, resp.Warnings)
		assert.JSONEq(t, `{
		  "signals": [{"name": "thr", "value": 1, "bind": {"input": "range"}}],
		  "data": [
		    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
		    {"name": "scaled", "transform": [{"type": "filter", "expr": "datum.a > thr"}],
		     "values": [{"a": 1, "b": 10}, {"a": 2, "b": 20}, {"a": 3, "b": 30}]}
		  ]
		}`, resp.Spec)
	})

	t.Run("broken", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{
			Spec:    interactiveSpec,
			LocalTZ: "UTC",
			Opts:    SpecOpts{PreserveInteractivity: boolPtr(false)},
		})

		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, BrokenInteractivity, resp.Warnings[0].Kind)
		assert.Equal(t, []varid.Variable{varid.NewSignal("thr")}, resp.Warnings[0].Vars)
		assert.JSONEq(t, `{
		  "signals": [{"name": "thr", "value": 1, "bind": {"input": "range"}}],
		  "data": [
		    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
		    {"name": "scaled", "values": [{"a": 2, "b": 20}, {"a": 3, "b": 30}]}
		  ]
		}`, resp.Spec)
	})

	t.Run("signal hint", func(t *testing.T) {
		const text = `{"signals": [
		  {"name": "thr", "value": 1, "on": [{"events": "click", "update": "thr + 1"}]},
		  {"name": "next", "value": 0, "update": "thr + 1"}
		]}`
		resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

		assert.Empty(t, resp.Warnings)
		assert.JSONEq(t, `{"signals": [
		  {"name": "thr", "value": 1, "on": [{"events": "click", "update": "thr + 1"}]},
		  {"name": "next", "value": 2, "update": "thr + 1"}
		]}`, resp.Spec)
	})
}

func TestPreTransformSpec_UnsupportedContainment(t *testing.T) {
	const text = `{"data": [
	  {"name": "a", "values": [{"x": 1}], "transform": [{"type": "pie", "field": "x"}]},
	  {"name": "b", "values": [{"x": 1}, {"x": 2}], "transform": [{"type": "filter", "expr": "datum.x > 1"}]},
	  {"name": "c", "source": "a"}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, Unsupported, resp.Warnings[0].Kind)
	assert.Equal(t, []varid.Variable{varid.NewData("a")}, resp.Warnings[0].Vars)
	assert.JSONEq(t, `{"data": [
	  {"name": "a", "values": [{"x": 1}], "transform": [{"type": "pie", "field": "x"}]},
	  {"name": "b", "values": [{"x": 2}]},
	  {"name": "c", "source": "a"}
	]}`, resp.Spec)
}

func TestPreTransformSpec_RowLimitDeduplicates(t *testing.T) {
	const text = `{"data": [
	  {"name": "source", "values": [{"a": 5}, {"a": 4}, {"a": 3}, {"a": 2}, {"a": 1}]},
	  {"name": "big", "source": "source", "transform": [{"type": "collect", "sort": {"field": "a"}}]},
	  {"name": "left", "source": ["big", "source"]},
	  {"name": "right", "source": ["big", "source"]}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC", Opts: SpecOpts{RowLimit: intPtr(2)}})

	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, RowLimit, resp.Warnings[0].Kind)
	assert.Equal(t, []varid.Variable{varid.NewData("big"), varid.NewData("left"), varid.NewData("right")}, resp.Warnings[0].Vars)
	assert.JSONEq(t, `{"data": [
	  {"name": "source", "values": [{"a": 5}, {"a": 4}, {"a": 3}, {"a": 2}, {"a": 1}]},
	  {"name": "big", "values": [{"a": 1}, {"a": 2}]},
	  {"name": "left", "values": [{"a": 1}, {"a": 2}]},
	  {"name": "right", "values": [{"a": 1}, {"a": 2}]}
	]}`, resp.Spec)
}

func TestPreTransformSpec_Idempotent(t *testing.T) {
	texts := map[string]string{"static": staticSpec, "interactive": interactiveSpec}
	for name, text := range texts {
		t.Run(name, func(t *testing.T) {
			p := New()
			req := SpecRequest{Spec: text, LocalTZ: "UTC", Opts: SpecOpts{RowLimit: intPtr(2)}}
			first := preTransformSpec(t, p, req)

			req.Spec = first.Spec
			second := preTransformSpec(t, p, req)
			assert.Equal(t, first.Spec, second.Spec)
			for _, w := range second.Warnings {
				assert.NotEqual(t, RowLimit, w.Kind)
				assert.NotEqual(t, BrokenInteractivity, w.Kind)
			}
		})
	}
}

func TestPreTransformSpec_Cycle(t *testing.T) {
	const text = `{"signals": [
	  {"name": "a", "update": "b + 1"},
	  {"name": "b", "update": "a + 1"},
	  {"name": "c", "update": "1 + 1"}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	require.Len(t, resp.Warnings, 1)
	w := resp.Warnings[0]
	assert.Equal(t, KindPlanner, w.Kind)
	assert.Equal(t, "dependency cycle between signal.a, signal.b", w.Message)
	assert.Equal(t, []varid.Variable{varid.NewSignal("a"), varid.NewSignal("b")}, w.Vars)
	assert.JSONEq(t, `{"signals": [
	  {"name": "a", "update": "b + 1"},
	  {"name": "b", "update": "a + 1"},
	  {"name": "c", "value": 2}
	]}`, resp.Spec)
}

func TestPreTransformSpec_MalformedEntries(t *testing.T) {
	const text = `{"data": [
	  {"name": 3},
	  1,
	  {"name": "good", "values": [{"a": 1}, {"a": 2}], "transform": [{"type": "filter", "expr": "datum.a > 1"}]}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	assert.JSONEq(t, `{"data": [
	  {"name": 3},
	  1,
	  {"name": "good", "values": [{"a": 2}]}
	]}`, resp.Spec)
	assert.Equal(t, []Warning{
		plannerWarning("data[0] is ignored: dataset requires a name"),
		plannerWarning("data[1] is ignored: expected an object"),
	}, resp.Warnings)
}

func TestPreTransformSpec_ExpressionSemantics(t *testing.T) {
	const text = `{"data": [
	  {"name": "rows", "values": [{"a": 1, "b": 2, "s": "x", "t": "y"}, {"a": 0, "b": 2, "s": "p", "t": "q"}]},
	  {"name": "both", "source": "rows", "transform": [{"type": "filter", "expr": "datum.a && datum.b"}]},
	  {"name": "derived", "source": "rows", "transform": [
	    {"type": "formula", "expr": "datum.a || 5", "as": "or"},
	    {"type": "formula", "expr": "datum.a > 0 ? 1 : 'no'", "as": "cond"},
	    {"type": "formula", "expr": "datum.s + datum.t", "as": "cat"},
	    {"type": "project", "fields": ["or", "cond", "cat"]}
	  ]}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	assert.Empty(t, resp.Warnings)
	assert.JSONEq(t, `{"data": [
	  {"name": "rows", "values": [{"a": 1, "b": 2, "s": "x", "t": "y"}, {"a": 0, "b": 2, "s": "p", "t": "q"}]},
	  {"name": "both", "values": [{"a": 1, "b": 2, "s": "x", "t": "y"}]},
	  {"name": "derived", "values": [{"or": 1, "cond": 1, "cat": "xy"}, {"or": 5, "cond": "no", "cat": "pq"}]}
	]}`, resp.Spec)
}

const selectionSpec = `{"data": [
  {"name": "brush_store", "values": [{"unit": "", "fields": [{"field": "a", "type": "R"}], "values": [[2, 3]]}],
   "on": [{"trigger": "brush_tuple", "insert": "brush_tuple"}]},
  {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}, {"a": 4}]},
  {"name": "selected", "source": "source", "transform": [
    {"type": "formula", "expr": "datum.a * 10", "as": "b"},
    {"type": "filter", "expr": "vlSelectionTest('brush_store', datum)"}
  ]}
]}`

func TestPreTransformSpec_SelectionTest(t *testing.T) {
	resp := preTransformSpec(t, New(), SpecRequest{Spec: selectionSpec, LocalTZ: "UTC"})

	assert.Empty(t, resp.Warnings)
	assert.JSONEq(t, `{"data": [
	  {"name": "brush_store", "values": [{"unit": "", "fields": [{"field": "a", "type": "R"}], "values": [[2, 3]]}],
	   "on": [{"trigger": "brush_tuple", "insert": "brush_tuple"}]},
	  {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}, {"a": 4}]},
	  {"name": "selected", "transform": [{"type": "filter", "expr": "vlSelectionTest('brush_store', datum)"}],
	   "values": [{"a": 1, "b": 10}, {"a": 2, "b": 20}, {"a": 3, "b": 30}, {"a": 4, "b": 40}]}
	]}`, resp.Spec)
}

func TestPreTransformValues_SelectionTest(t *testing.T) {
	resp := preTransformValues(t, New(), ValuesRequest{Spec: selectionSpec, LocalTZ: "UTC", Opts: ValuesOpts{
		Variables: []VariableRequest{varRequest("data.selected")},
	}})

	assert.JSONEq(t, `[{"a": 2, "b": 20}, {"a": 3, "b": 30}]`, valueJSON(t, resp.Values[0].Value))
	assert.Equal(t, []Warning{
		{Kind: KindPlanner, Vars: []varid.Variable{varid.NewData("selected")}, Message: initialValueMessage},
	}, resp.Warnings)
}

func TestPreTransformSpec_SignalReadsDatum(t *testing.T) {
	const text = `{"signals": [
	  {"name": "k", "value": 1},
	  {"name": "bad", "update": "datum.a + k"},
	  {"name": "after", "update": "bad * 2"}
	]}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	assert.Equal(t, text, resp.Spec)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, Unsupported, resp.Warnings[0].Kind)
	assert.Equal(t, []varid.Variable{varid.NewSignal("bad")}, resp.Warnings[0].Vars)

	values := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
		Variables: []VariableRequest{varRequest("signal.bad")},
	}})
	assert.Equal(t, "null", valueJSON(t, values.Values[0].Value))
	require.Len(t, values.Warnings, 2)
	assert.Equal(t, Unsupported, values.Warnings[0].Kind)
	assert.Equal(t, `signal.bad cannot be evaluated: expression "datum.a + k" reads datum outside a transform`, values.Warnings[1].Message)
}

func TestPreTransformSpec_DynamicGroupLeftAlone(t *testing.T) {
	const text = `{
	  "data": [{"name": "table", "values": [{"c": "x"}, {"c": "y"}]}],
	  "marks": [{"type": "group", "from": {"facet": {"name": "part", "data": "table", "groupby": "c"}},
	    "data": [{"name": "inner", "source": "part", "transform": [{"type": "filter", "expr": "true"}]}]}]
	}`
	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})

	assert.Equal(t, text, resp.Spec)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, KindPlanner, resp.Warnings[0].Kind)
	assert.Equal(t, "the group mark at [0] is not pre-transformed because it is faceted", resp.Warnings[0].Message)
	assert.Equal(t, []varid.Variable{varid.NewData("part"), varid.NewData("inner")}, resp.Warnings[0].Vars)
}

func TestPreTransformSpec_InlineDatasets(t *testing.T) {
	rows := table.New("a")
	for _, a := range []int64{1, 2, 3} {
		rows.Append(map[string]cty.Value{"a": cty.NumberIntVal(a)})
	}
	payload, err := table.Encode(rows)
	require.NoError(t, err)

	const text = `{"data": [
	  {"name": "tbl", "url": "table://tbl"},
	  {"name": "big", "source": "tbl", "transform": [{"type": "filter", "expr": "datum.a > 1"}]}
	]}`

	t.Run("provided", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{
			Spec:    text,
			LocalTZ: "UTC",
			Opts:    SpecOpts{InlineDatasets: []InlineDataset{{Name: "tbl", Table: payload}, {Name: "tbl", Table: nil}}},
		})
		assert.JSONEq(t, `{"data": [
		  {"name": "tbl", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
		  {"name": "big", "values": [{"a": 2}, {"a": 3}]}
		]}`, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, `inline dataset "tbl" was provided more than once; the first one is used`, resp.Warnings[0].Message)
	})

	t.Run("missing", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})
		assert.Equal(t, text, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, `inline dataset "tbl" was not provided`, resp.Warnings[0].Message)
		assert.Equal(t, []varid.Variable{varid.NewData("tbl")}, resp.Warnings[0].Vars)
	})

	t.Run("overrides declared dataset", func(t *testing.T) {
		const declared = `{"data": [{"name": "src", "values": [{"a": 9}]}]}`
		resp := preTransformSpec(t, New(), SpecRequest{
			Spec:    declared,
			LocalTZ: "UTC",
			Opts:    SpecOpts{InlineDatasets: []InlineDataset{{Name: "src", Table: payload}}},
		})
		assert.Empty(t, resp.Warnings)
		assert.JSONEq(t, `{"data": [{"name": "src", "values": [{"a": 1}, {"a": 2}, {"a": 3}]}]}`, resp.Spec)
	})

	t.Run("undecodable", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{
			Spec:    text,
			LocalTZ: "UTC",
			Opts:    SpecOpts{InlineDatasets: []InlineDataset{{Name: "tbl", Table: []byte("junk")}}},
		})
		require.Len(t, resp.Warnings, 2)
		assert.Contains(t, resp.Warnings[0].Message, `inline dataset "tbl" could not be decoded`)
		assert.Equal(t, `inline dataset "tbl" was not provided`, resp.Warnings[1].Message)
	})
}

// fakeFetcher serves tables by url.
type fakeFetcher map[string]*table.Table

func (f fakeFetcher) Fetch(_ context.Context, rawURL string, _ *spec.Format) (*table.Table, error) {
	t, ok := f[rawURL]
	if !ok {
		return nil, fmt.Errorf("no such url %q", rawURL)
	}
	return t, nil
}

func TestPreTransformSpec_URLData(t *testing.T) {
	const text = `{"data": [{"name": "remote", "url": "data/rows.json", "transform": [{"type": "filter", "expr": "datum.a > 1"}]}]}`
	rows, err := table.FromJSON([]byte(`[{"a": 1}, {"a": 2}]`))
	require.NoError(t, err)

	t.Run("without fetcher", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})
		assert.Equal(t, text, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, "data.remote loads its rows from a url, and url loading is disabled", resp.Warnings[0].Message)
	})

	t.Run("with fetcher", func(t *testing.T) {
		p := New(WithFetcher(fakeFetcher{"data/rows.json": rows}))
		resp := preTransformSpec(t, p, SpecRequest{Spec: text, LocalTZ: "UTC"})
		assert.Empty(t, resp.Warnings)
		assert.JSONEq(t, `{"data": [{"name": "remote", "values": [{"a": 2}]}]}`, resp.Spec)
	})

	t.Run("fetch error", func(t *testing.T) {
		p := New(WithFetcher(fakeFetcher{}))
		resp := preTransformSpec(t, p, SpecRequest{Spec: text, LocalTZ: "UTC"})
		assert.Equal(t, text, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, `failed to evaluate data.remote: no such url "data/rows.json"`, resp.Warnings[0].Message)
	})
}

func TestPreTransformSpec_OutputTZ(t *testing.T) {
	const text = `{"data": [{"name": "years", "values": [{"t": 1577836800000}],
	  "transform": [{"type": "timeunit", "field": "t", "units": ["year"], "timezone": "utc"}]}]}`

	resp := preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC", OutputTZ: strPtr("America/New_York")})
	assert.Empty(t, resp.Warnings)
	assert.JSONEq(t, `{"data": [{"name": "years", "values": [
	  {"t": 1577836800000, "unit0": "2019-12-31T19:00:00.000", "unit1": "2020-12-31T19:00:00.000"}
	]}]}`, resp.Spec)

	resp = preTransformSpec(t, New(), SpecRequest{Spec: text, LocalTZ: "UTC"})
	assert.JSONEq(t, `{"data": [{"name": "years", "values": [
	  {"t": 1577836800000, "unit0": 1577836800000, "unit1": 1609459200000}
	]}]}`, resp.Spec)
}

func TestPreTransformSpec_RequestProblems(t *testing.T) {
	t.Run("unparseable", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{Spec: `{"data": [`, LocalTZ: "UTC"})
		assert.Empty(t, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, KindPlanner, resp.Warnings[0].Kind)
		assert.Contains(t, resp.Warnings[0].Message, "failed to parse spec")
	})

	t.Run("invalid timezone and row limit", func(t *testing.T) {
		resp := preTransformSpec(t, New(), SpecRequest{
			Spec:     staticSpec,
			LocalTZ:  "Mars/Olympus_Mons",
			OutputTZ: strPtr("Nowhere/City"),
			Opts:     SpecOpts{RowLimit: intPtr(-1)},
		})
		var messages []string
		for _, w := range resp.Warnings {
			messages = append(messages, w.Message)
		}
		assert.Equal(t, []string{
			`local timezone "Mars/Olympus_Mons" is not valid; UTC is used instead`,
			"row limit -1 is negative; no limit is applied",
			`output timezone "Nowhere/City" is not valid; timestamps are embedded as epoch milliseconds`,
		}, messages)
		assert.JSONEq(t, staticRewritten, resp.Spec)
	})

	t.Run("nil planner", func(t *testing.T) {
		var p *Planner
		_, err := p.PreTransformSpec(context.Background(), SpecRequest{})
		assert.Error(t, err)
	})
}

// stubExecutor wraps the reference engine and intercepts non-empty pipelines.
type stubExecutor struct {
	intercept func(ctx context.Context) error
}

func (s stubExecutor) Execute(ctx context.Context, req transforms.Request) (*transforms.Result, error) {
	if len(req.Pipeline) > 0 {
		if err := s.intercept(ctx); err != nil {
			return nil, err
		}
	}
	return transforms.New().Execute(ctx, req)
}

func TestPreTransformSpec_EvaluationProblems(t *testing.T) {
	const text = `{"data": [
	  {"name": "source", "values": [{"a": 1}]},
	  {"name": "x", "source": "source", "transform": [{"type": "collect"}]},
	  {"name": "y", "source": "x"}
	]}`

	t.Run("failure skips dependents", func(t *testing.T) {
		p := New(WithExecutor(stubExecutor{intercept: func(context.Context) error { return errors.New("boom") }}))
		resp := preTransformSpec(t, p, SpecRequest{Spec: text, LocalTZ: "UTC"})

		assert.Equal(t, text, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, "failed to evaluate data.x: boom", resp.Warnings[0].Message)
		assert.Equal(t, []varid.Variable{varid.NewData("x")}, resp.Warnings[0].Vars)
	})

	t.Run("timeout", func(t *testing.T) {
		p := New(
			WithTimeout(50*time.Millisecond),
			WithExecutor(stubExecutor{intercept: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}}),
		)
		resp := preTransformSpec(t, p, SpecRequest{Spec: text, LocalTZ: "UTC"})

		assert.Equal(t, text, resp.Spec)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, "evaluation did not finish within 50ms", resp.Warnings[0].Message)
		assert.Equal(t, []varid.Variable{varid.NewData("x"), varid.NewData("y")}, resp.Warnings[0].Vars)
	})
}

func TestPreTransformValues_Alignment(t *testing.T) {
	const text = `{"width": 300, "signals": [{"name": "k", "value": 2}]}`

	t.Run("empty request", func(t *testing.T) {
		resp := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC"})
		assert.Empty(t, resp.Values)
		assert.Empty(t, resp.Warnings)
	})

	t.Run("mixed", func(t *testing.T) {
		resp := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
			Variables: []VariableRequest{varRequest("signal.width"), varRequest("data.nope"), varRequest("signal.k")},
		}})
		assert.Equal(t, "300", valueJSON(t, resp.Values[0].Value))
		assert.Equal(t, "[]", valueJSON(t, resp.Values[1].Value))
		assert.Equal(t, varid.NewData("nope"), resp.Values[1].Variable)
		assert.Equal(t, "2", valueJSON(t, resp.Values[2].Value))

		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, "data.nope is not defined", resp.Warnings[0].Message)
		assert.Empty(t, resp.Warnings[0].Vars)
	})

	t.Run("unparseable", func(t *testing.T) {
		resp := preTransformValues(t, New(), ValuesRequest{Spec: "nope", LocalTZ: "UTC", Opts: ValuesOpts{
			Variables: []VariableRequest{varRequest("signal.a"), varRequest("data.b")},
		}})
		assert.Equal(t, "null", valueJSON(t, resp.Values[0].Value))
		assert.Equal(t, "[]", valueJSON(t, resp.Values[1].Value))
		require.Len(t, resp.Warnings, 1)
		assert.Contains(t, resp.Warnings[0].Message, "failed to parse spec")
	})
}

func TestPreTransformValues_Scopes(t *testing.T) {
	const text = `{"marks": [
	  {"type": "group", "data": [{"name": "d", "values": [{"x": 1}], "transform": [{"type": "formula", "expr": "datum.x * 2", "as": "y"}]}]},
	  {"type": "text"},
	  {"type": "group", "data": [{"name": "d", "values": [{"x": 2}], "transform": [{"type": "formula", "expr": "datum.x * 2", "as": "y"}]}]},
	  {"type": "group", "data": [{"name": "d", "values": [{"x": 3}], "transform": [{"type": "formula", "expr": "datum.x * 2", "as": "y"}]}]}
	]}`

	resp := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
		Variables: []VariableRequest{varRequest("data.d", 0), varRequest("data.d", 1), varRequest("data.d", 2), varRequest("data.d", 3)},
	}})

	assert.JSONEq(t, `[{"x": 1, "y": 2}]`, valueJSON(t, resp.Values[0].Value))
	assert.JSONEq(t, `[{"x": 2, "y": 4}]`, valueJSON(t, resp.Values[1].Value))
	assert.JSONEq(t, `[{"x": 3, "y": 6}]`, valueJSON(t, resp.Values[2].Value))
	assert.Equal(t, "[]", valueJSON(t, resp.Values[3].Value))
	assert.Equal(t, varid.Scope{3}, resp.Values[3].Scope)

	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, Warning{
		Kind:    KindPlanner,
		Vars:    []varid.Variable{varid.NewData("d")},
		Message: "data.d has no instance at scope [3]",
	}, resp.Warnings[0])
}

func TestPreTransformValues_RowLimitMonotonic(t *testing.T) {
	const text = `{"data": [
	  {"name": "source", "values": [{"a": 5}, {"a": 4}, {"a": 3}, {"a": 2}, {"a": 1}]},
	  {"name": "big", "source": "source", "transform": [{"type": "collect", "sort": {"field": "a"}}]}
	]}`
	const total = 5

	previous := 0
	for limit := 1; limit <= total+1; limit++ {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			resp := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
				Variables: []VariableRequest{varRequest("data.big")},
				RowLimit:  intPtr(limit),
			}})
			got := resp.Values[0].Value.Table
			require.NotNil(t, got)
			assert.GreaterOrEqual(t, got.Len(), previous)
			assert.Equal(t, min(limit, total), got.Len())
			previous = got.Len()

			truncated := false
			for _, w := range resp.Warnings {
				if w.Kind == RowLimit {
					truncated = true
					assert.Equal(t, []varid.Variable{varid.NewData("big")}, w.Vars)
				}
			}
			assert.Equal(t, total > limit, truncated)
		})
	}
}

func TestPreTransformValues_DegradedVariables(t *testing.T) {
	const text = `{
	  "signals": [{"name": "thr", "value": 1, "bind": {"input": "range"}}],
	  "data": [
	    {"name": "source", "values": [{"a": 1}, {"a": 2}, {"a": 3}]},
	    {"name": "scaled", "source": "source", "transform": [
	      {"type": "formula", "expr": "datum.a * 10", "as": "b"},
	      {"type": "filter", "expr": "datum.a > thr"}
	    ]},
	    {"name": "weird", "values": [{"x": 1}], "transform": [{"type": "pie", "field": "x"}]},
	    {"name": "after", "source": "weird", "transform": [{"type": "collect"}]}
	  ]
	}`
	resp := preTransformValues(t, New(), ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
		Variables: []VariableRequest{varRequest("signal.thr"), varRequest("data.scaled"), varRequest("data.weird"), varRequest("data.after")},
	}})

	assert.Equal(t, "1", valueJSON(t, resp.Values[0].Value))
	assert.JSONEq(t, `[{"a": 2, "b": 20}, {"a": 3, "b": 30}]`, valueJSON(t, resp.Values[1].Value))
	assert.JSONEq(t, `[{"x": 1}]`, valueJSON(t, resp.Values[2].Value), "literal values are the best available")
	assert.Equal(t, "[]", valueJSON(t, resp.Values[3].Value))

	assert.Equal(t, []Warning{
		{Kind: Unsupported, Vars: []varid.Variable{varid.NewData("weird")}, Message: kindMessages[Unsupported]},
		{Kind: KindPlanner, Vars: []varid.Variable{varid.NewSignal("thr"), varid.NewData("scaled")}, Message: initialValueMessage},
		{
			Kind:    KindPlanner,
			Vars:    []varid.Variable{varid.NewData("weird")},
			Message: `data.weird cannot be evaluated: transform 0: transform type "pie" is not supported`,
		},
		{
			Kind:    KindPlanner,
			Vars:    []varid.Variable{varid.NewData("after")},
			Message: "data.after cannot be evaluated: it depends on data.weird, which cannot be evaluated",
		},
	}, resp.Warnings)
}

func TestPreTransformValues_OnlyEvaluatesAncestors(t *testing.T) {
	const text = `{"data": [
	  {"name": "wanted", "values": [{"a": 1}], "transform": [{"type": "collect"}]},
	  {"name": "other", "values": [{"a": 1}], "transform": [{"type": "collect"}]}
	]}`
	var calls int
	p := New(WithWorkers(1), WithExecutor(stubExecutor{intercept: func(context.Context) error {
		calls++
		return nil
	}}))
	resp := preTransformValues(t, p, ValuesRequest{Spec: text, LocalTZ: "UTC", Opts: ValuesOpts{
		Variables: []VariableRequest{varRequest("data.wanted")},
	}})
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, 1, calls)
}

func TestResponse_JSON(t *testing.T) {
	resp := &ValuesResponse{
		Values: []ResponseValue{
			{Variable: varid.NewSignal("k"), Value: ScalarValue(cty.NumberIntVal(2))},
			{Variable: varid.NewData("d"), Scope: varid.Scope{1}, Value: TableValue(table.New())},
		},
		Warnings: []Warning{{Kind: RowLimit, Vars: []varid.Variable{varid.NewData("d")}, Message: "m"}},
	}
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
	  "values": [
	    {"variable": "signal.k", "scope": [], "value": 2},
	    {"variable": "data.d", "scope": [1], "value": []}
	  ],
	  "warnings": [{"type": "RowLimit", "vars": ["data.d"], "message": "m"}]
	}`, string(raw))
}
