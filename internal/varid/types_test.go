// internal/varid/types_test.go
package varid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoped_String(t *testing.T) {
	testCases := []struct {
		name     string
		scoped   Scoped
		expected string
	}{
		{"top level", NewScoped(NewSignal("width"), nil), "signal.width"},
		{"one level", NewScoped(NewData("table"), Scope{1}), "data.table[1]"},
		{"two levels", NewScoped(NewData("table"), Scope{0, 3}), "data.table[0][3]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.scoped.String())
		})
	}
}

func TestScoped_RoundTrip(t *testing.T) {
	for _, id := range []string{"signal.width", "data.a[0]", "data.b[1][2][3]"} {
		t.Run(id, func(t *testing.T) {
			parsed, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, id, parsed.String())

			again, err := Parse(parsed.String())
			require.NoError(t, err)
			assert.True(t, parsed.Equal(again))
		})
	}
}

func TestScope_Navigation(t *testing.T) {
	root := Scope{}
	child := root.Child(2)
	grandchild := child.Child(0)

	assert.Equal(t, Scope{2}, child)
	assert.Equal(t, Scope{2, 0}, grandchild)
	assert.True(t, grandchild.Parent().Equal(child))
	assert.True(t, root.Parent().Equal(root))
	assert.True(t, grandchild.HasPrefix(child))
	assert.True(t, grandchild.HasPrefix(root))
	assert.False(t, child.HasPrefix(grandchild))

	// Child must not alias the receiver's backing array.
	sibling := child.Child(1)
	assert.Equal(t, Scope{2, 0}, grandchild)
	assert.Equal(t, Scope{2, 1}, sibling)
}

func TestParseNamespace(t *testing.T) {
	ns, err := ParseNamespace("data")
	require.NoError(t, err)
	assert.Equal(t, Data, ns)

	_, err = ParseNamespace("scale")
	assert.ErrorContains(t, err, "unknown namespace")
}
