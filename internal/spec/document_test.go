package spec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObject_UnchangedIsByteIdentical(t *testing.T) {
	t.Parallel()

	src := "{\n  \"b\": 1,\n  \"a\": [ {\"x\" : 2} ],\n  \"c\": {\"nested\":   true}\n}\n"
	obj, err := ParseObject([]byte(src))
	require.NoError(t, err)

	// Touching structured children without modifying them must not change output.
	_, err = obj.Array("a")
	require.NoError(t, err)
	_, err = obj.Object("c")
	require.NoError(t, err)

	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
	assert.False(t, obj.Changed())
}

func TestObject_ModifiedKeepsOrderAndUntouchedSiblings(t *testing.T) {
	t.Parallel()

	src := `{"z": {"keep":  "me"}, "data": [{"name":"a",  "values":[1]}, {"name": "b", "source": "a"}], "m": 3}`
	obj, err := ParseObject([]byte(src))
	require.NoError(t, err)

	arr, err := obj.Array("data")
	require.NoError(t, err)
	require.Equal(t, 2, arr.Len())

	second := arr.At(1)
	second.Delete("source")
	require.NoError(t, second.Set("values", json.RawMessage(`[{"x":1}]`)))

	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"z":{"keep":  "me"},"data":[{"name":"a",  "values":[1]},{"name":"b","values":[{"x":1}]}],"m":3}`,
		string(out))
}

func TestObject_SetDoesNotEscapeHTML(t *testing.T) {
	t.Parallel()

	obj := NewObject()
	require.NoError(t, obj.Set("expr", "a < b && c > d"))
	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a < b && c > d"}`, string(out))
}

func TestObject_SetArrayAppendsMember(t *testing.T) {
	t.Parallel()

	obj, err := ParseObject([]byte(`{"name": "g"}`))
	require.NoError(t, err)
	arr := NewArray()
	item := NewObject()
	require.NoError(t, item.Set("name", "s"))
	arr.Append(item)
	obj.SetArray("signals", arr)

	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"g","signals":[{"name":"s"}]}`, string(out))
}

func TestParseObject_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		src     string
		wantErr error
	}{
		{"not json", `{"a": `, ErrParse},
		{"array root", `[1, 2]`, ErrSchema},
		{"trailing data", `{"a": 1} {"b": 2}`, ErrParse},
		{"empty", ``, ErrParse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseObject([]byte(tc.src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestObject_ArrayKeepsNonObjects(t *testing.T) {
	t.Parallel()

	obj, err := ParseObject([]byte(`{"data": [1, {"a": 2}, "x"]}`))
	require.NoError(t, err)
	arr, err := obj.Array("data")
	require.NoError(t, err)
	require.Equal(t, 3, arr.Len())
	assert.False(t, arr.At(0).IsObject())
	assert.True(t, arr.At(1).IsObject())
	assert.False(t, arr.At(2).IsObject())

	require.NoError(t, arr.At(1).Set("a", 3))
	out, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"data":[1,{"a":3},"x"]}`, string(out))
}
