package expect

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const builderExpectation = `
package expectation

target := "pkg:npm/left-pad@1.3.0"

default allow := false

allow if {
	input.predicate.runDetails.builder.id == "https://github.com/actions/runner"
}

deny contains msg if {
	input.predicateType != "https://slsa.dev/provenance/v1"
	msg := "unexpected predicate type"
}
`

func statement(predicateType, builderID string) []byte {
	data, _ := json.Marshal(map[string]any{
		"_type":         "https://in-toto.io/Statement/v1",
		"predicateType": predicateType,
		"subject":       []any{},
		"predicate": map[string]any{
			"runDetails": map[string]any{
				"builder": map[string]any{"id": builderID},
			},
		},
	})
	return data
}

func newValidator(t *testing.T, opts ...Option) *RegoValidator {
	t.Helper()
	v, err := NewRegoValidator(opts...)
	require.NoError(t, err)
	return v
}

func TestRegoValidator_ExtractTarget(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	ctx := context.Background()

	target, ok := v.ExtractTarget(ctx, []byte(builderExpectation))
	require.True(t, ok)
	assert.Equal(t, "pkg:npm/left-pad@1.3.0", target)

	_, ok = v.ExtractTarget(ctx, []byte("package expectation\n\ndefault allow := true\n"))
	assert.False(t, ok)

	_, ok = v.ExtractTarget(ctx, []byte("package expectation\n invalid rego syntax {{{"))
	assert.False(t, ok)
}

func TestRegoValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		expectation string
		candidate   []byte
		want        Outcome
	}{
		{
			name:        "conforms",
			expectation: builderExpectation,
			candidate:   statement("https://slsa.dev/provenance/v1", "https://github.com/actions/runner"),
			want:        Conforms,
		},
		{
			name:        "allow false",
			expectation: builderExpectation,
			candidate:   statement("https://slsa.dev/provenance/v1", "https://evil.example"),
			want:        Violates,
		},
		{
			name:        "deny overrides allow",
			expectation: builderExpectation,
			candidate:   statement("https://slsa.dev/provenance/v0.2", "https://github.com/actions/runner"),
			want:        Violates,
		},
		{
			name:        "candidate not json",
			expectation: builderExpectation,
			candidate:   []byte("{"),
			want:        Violates,
		},
		{
			name:        "invalid module",
			expectation: "package expectation\n invalid rego syntax {{{",
			candidate:   statement("https://slsa.dev/provenance/v1", "x"),
			want:        SchemaInvalid,
		},
		{
			name:        "wrong package",
			expectation: "package other\n\nallow := true\n",
			candidate:   statement("https://slsa.dev/provenance/v1", "x"),
			want:        SchemaInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := newValidator(t)
			got := v.Validate(context.Background(), []byte(tt.expectation), tt.candidate)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestRegoValidator_CustomPackage(t *testing.T) {
	t.Parallel()

	v := newValidator(t, WithPackage("acme.expect"))
	src := []byte("package acme.expect\n\ntarget := \"pkg:generic/x\"\n\nallow := true\n")

	target, ok := v.ExtractTarget(context.Background(), src)
	require.True(t, ok)
	assert.Equal(t, "pkg:generic/x", target)
	assert.Equal(t, Conforms, v.Validate(context.Background(), src, []byte(`{}`)))
}

func TestRegoValidator_Identity(t *testing.T) {
	t.Parallel()

	var id Identifier = newValidator(t)
	assert.Equal(t, "rego/expectation", id.Identity())
	assert.NotEqual(t, id.Identity(), newValidator(t, WithPackage("acme.expect")).Identity())
}

func TestRegoValidator_EmptyPackage(t *testing.T) {
	t.Parallel()

	_, err := NewRegoValidator(WithPackage(""))
	require.Error(t, err)
}

func TestRegoValidator_Concurrent(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	candidate := statement("https://slsa.dev/provenance/v1", "https://github.com/actions/runner")

	var wg sync.WaitGroup
	results := make([]Outcome, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = v.Validate(context.Background(), []byte(builderExpectation), candidate)
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, Conforms, got)
	}
	assert.Len(t, v.compiled, 1)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "conforms", Conforms.String())
	assert.Equal(t, "violates", Violates.String())
	assert.Equal(t, "schema_invalid", SchemaInvalid.String())
	assert.True(t, Conforms.Passed())
	assert.False(t, SchemaInvalid.Passed())
}
