package planner

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pretransform/internal/varid"
)

func TestCollector(t *testing.T) {
	a, b, c := varid.NewData("a"), varid.NewData("b"), varid.NewSignal("c")

	testCases := []struct {
		name string
		add  []Warning
		want []Warning
	}{
		{
			name: "empty",
			want: []Warning{},
		},
		{
			name: "kinds collapse and sort",
			add: []Warning{
				{Kind: KindPlanner, Vars: []varid.Variable{c}, Message: "first"},
				{Kind: Unsupported, Vars: []varid.Variable{a}},
				{Kind: RowLimit, Vars: []varid.Variable{b}},
				{Kind: RowLimit, Vars: []varid.Variable{a, b}},
			},
			want: []Warning{
				{Kind: RowLimit, Vars: []varid.Variable{b, a}, Message: kindMessages[RowLimit]},
				{Kind: Unsupported, Vars: []varid.Variable{a}, Message: kindMessages[Unsupported]},
				{Kind: KindPlanner, Vars: []varid.Variable{c}, Message: "first"},
			},
		},
		{
			name: "planner entries merge by message",
			add: []Warning{
				{Kind: KindPlanner, Vars: []varid.Variable{a}, Message: "m1"},
				{Kind: KindPlanner, Message: "m2"},
				{Kind: KindPlanner, Vars: []varid.Variable{b}, Message: "m1"},
			},
			want: []Warning{
				{Kind: KindPlanner, Vars: []varid.Variable{a, b}, Message: "m1"},
				{Kind: KindPlanner, Message: "m2"},
			},
		},
		{
			name: "variable joins one planner entry",
			add: []Warning{
				{Kind: KindPlanner, Vars: []varid.Variable{a}, Message: "m1"},
				{Kind: KindPlanner, Vars: []varid.Variable{a, c}, Message: "m2"},
			},
			want: []Warning{
				{Kind: KindPlanner, Vars: []varid.Variable{a}, Message: "m1"},
				{Kind: KindPlanner, Vars: []varid.Variable{c}, Message: "m2"},
			},
		},
		{
			name: "kind without variables is dropped",
			add:  []Warning{{Kind: BrokenInteractivity}, {Kind: WarningKind(9), Message: "x"}},
			want: []Warning{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCollector()
			c.addAll(tc.add)
			if diff := cmp.Diff(tc.want, c.list()); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWarning_JSON(t *testing.T) {
	raw, err := json.Marshal([]Warning{
		{Kind: BrokenInteractivity, Vars: []varid.Variable{varid.NewSignal("thr")}, Message: "m"},
		plannerWarning("no %s", "vars"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[
	  {"type": "BrokenInteractivity", "vars": ["signal.thr"], "message": "m"},
	  {"type": "Planner", "vars": [], "message": "no vars"}
	]`, string(raw))
	assert.Equal(t, "WarningKind(7)", WarningKind(7).String())
}
