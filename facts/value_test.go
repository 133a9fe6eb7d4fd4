package facts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSON(t *testing.T) {
	t.Parallel()

	v, err := FromJSON([]byte(`{"z": 1, "a": [1.5, "s", true, null], "m": {}}`))
	require.NoError(t, err)

	want := Object{
		{Key: "z", Value: Int(1)},
		{Key: "a", Value: Array{Float(1.5), Str("s"), Bool(true), Null{}}},
		{Key: "m", Value: Object{}},
	}
	assert.Equal(t, want, v)

	obj, ok := v.(Object)
	require.True(t, ok)
	got, ok := obj.Get("a")
	require.True(t, ok)
	assert.Len(t, got, 4)
	_, ok = obj.Get("missing")
	assert.False(t, ok)
}

func TestFromJSONErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{name: "truncated", src: `{"a": `},
		{name: "trailing data", src: `{} {}`},
		{name: "duplicate key", src: `{"a": 1, "a": 2}`},
		{name: "empty", src: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := FromJSON([]byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want StructuredValue
	}{
		{name: "nil", in: nil, want: Null{}},
		{name: "int", in: 3, want: Int(3)},
		{name: "json integer", in: json.Number("42"), want: Int(42)},
		{name: "json float", in: json.Number("4.5"), want: Float(4.5)},
		{name: "huge unsigned", in: uint64(1 << 63), want: Float(float64(uint64(1 << 63)))},
		{name: "float", in: 2.5, want: Float(2.5)},
		{name: "string", in: "x", want: Str("x")},
		{name: "map sorted", in: map[string]any{"b": false, "a": 1}, want: Object{{Key: "a", Value: Int(1)}, {Key: "b", Value: Bool(false)}}},
		{name: "slice", in: []any{1, "y"}, want: Array{Int(1), Str("y")}},
		{name: "already structured", in: Str("z"), want: Str("z")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FromAny(struct{}{})
	require.Error(t, err)
}
