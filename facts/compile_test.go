package facts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/expect"
)

const subjectSHA = "8b2e3a9f1c0d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b"

var (
	num = datalog.Number
	sym = datalog.Symbol
)

func provenanceEnvelope(builderID string) string {
	payload, _ := json.Marshal(map[string]any{
		"_type":         "https://in-toto.io/Statement/v1",
		"predicateType": "https://slsa.dev/provenance/v1",
		"subject": []any{
			map[string]any{"name": "left-pad-1.3.0.tgz", "digest": map[string]any{"sha256": subjectSHA}},
		},
		"predicate": map[string]any{
			"buildDefinition": map[string]any{
				"buildType": "https://slsa.dev/github-actions-workflow/v1",
				"externalParameters": map[string]any{
					"workflow": map[string]any{
						"repository": "https://github.com/left-pad/left-pad",
						"ref":        "refs/tags/v1.3.0",
						"path":       ".github/workflows/release.yml",
					},
				},
			},
			"runDetails": map[string]any{"builder": map[string]any{"id": builderID}},
		},
	})
	data, _ := json.Marshal(map[string]any{
		"payloadType": "application/vnd.in-toto+json",
		"payload":     base64.StdEncoding.EncodeToString(payload),
		"signatures":  []any{},
	})
	return string(data)
}

func baseSnapshot() *Snapshot {
	return &Snapshot{
		Components: []Component{
			{ID: 1, PURL: "pkg:npm/left-pad@1.3.0"},
			{ID: 2, PURL: "pkg:npm/is-odd@3.0.1"},
		},
		Repositories: []Repository{{
			ID: 10, ComponentID: 1,
			CompleteName: "github.com/left-pad/left-pad",
			RemotePath:   "https://github.com/left-pad/left-pad",
			BranchName:   "main",
			ReleaseTag:   "v1.3.0",
			CommitSHA:    "0123abcd",
			CommitDate:   "2024-05-01T10:00:00Z",
		}},
		Checks: []CheckResult{
			{ID: 100, CheckID: "mcn_build_service_1", Passed: true, ComponentID: 1,
				Facts: []CheckFact{{ID: 1000, Confidence: 0.7}, {ID: 1001, Confidence: 1}}},
			{ID: 101, CheckID: "mcn_version_control_system_1", Passed: false, ComponentID: 2},
		},
		Dependencies: []Dependency{{Parent: 1, Dependency: 2}},
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()

	fb, err := Compile(context.Background(), baseSnapshot())
	require.NoError(t, err)

	assert.True(t, fb.Contains(RelComponent, num(1), sym("pkg:npm/left-pad@1.3.0")))
	assert.True(t, fb.Contains(RelRepository, num(10), num(1),
		sym("github.com/left-pad/left-pad"), sym("https://github.com/left-pad/left-pad"),
		sym("main"), sym("v1.3.0"), sym("0123abcd"), sym("2024-05-01T10:00:00Z")))
	assert.True(t, fb.Contains(RelCheckResult, num(100), sym("mcn_build_service_1"), num(1), num(1)))
	assert.True(t, fb.Contains(RelCheckResult, num(101), sym("mcn_version_control_system_1"), num(0), num(2)))
	assert.True(t, fb.Contains(RelCheckFacts, num(1000), num(100), datalog.Float(0.7), num(1)))
	assert.True(t, fb.Contains(RelDependency, num(1), num(2)))
	assert.Equal(t, 2, fb.Len(RelCheckFacts))
}

func TestCompileDeduplicates(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	snap.Dependencies = append(snap.Dependencies, Dependency{Parent: 1, Dependency: 2})
	snap.Components = append(snap.Components, Component{ID: 1, PURL: "pkg:npm/left-pad@1.3.0"})

	fb, err := Compile(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.Len(RelDependency))
	assert.Equal(t, 2, fb.Len(RelComponent))
}

func TestCompileUnfoldsDocuments(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{Documents: []Document{{
		Name: "doc",
		Value: map[string]any{
			"a":    map[string]any{"b": 5},
			"list": []any{true, nil, 1.5, "x"},
		},
	}}}
	fb, err := Compile(context.Background(), snap)
	require.NoError(t, err)

	// Handles are assigned depth first in key order.
	assert.Equal(t, []datalog.Tuple{{sym("doc"), num(1)}}, fb.Tuples(RelJSONRoot))
	assert.Equal(t, []datalog.Tuple{
		{num(1), sym("a"), num(2)},
		{num(1), sym("list"), num(4)},
		{num(2), sym("b"), num(3)},
	}, fb.Tuples(RelJSONObject))
	assert.Equal(t, []datalog.Tuple{
		{num(4), num(0), num(5)},
		{num(4), num(1), num(6)},
		{num(4), num(2), num(7)},
		{num(4), num(3), num(8)},
	}, fb.Tuples(RelJSONArray))
	assert.True(t, fb.Contains(RelJSONInt, num(3), num(5)))
	assert.True(t, fb.Contains(RelJSONBool, num(5), datalog.Bool(true)))
	assert.True(t, fb.Contains(RelJSONNull, num(6)))
	assert.True(t, fb.Contains(RelJSONFloat, num(7), datalog.Float(1.5)))
	assert.True(t, fb.Contains(RelJSONStr, num(8), sym("x")))
}

func TestCompileHandlesAvoidRawRows(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{
		Relations: map[string][][]any{
			RelJSONRoot: {{"raw", 41}},
			RelJSONInt:  {{41, 7}},
		},
		Documents: []Document{{Name: "doc", Value: 1}},
	}
	fb, err := Compile(context.Background(), snap)
	require.NoError(t, err)
	assert.True(t, fb.Contains(RelJSONRoot, sym("doc"), num(42)))
	assert.True(t, fb.Contains(RelJSONInt, num(42), num(1)))
}

func TestCompileProvenance(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	snap.Provenances = []Provenance{{ID: 7, ComponentID: 1, Payload: provenanceEnvelope("https://github.com/actions/runner")}}

	fb, err := Compile(context.Background(), snap)
	require.NoError(t, err)

	provs := fb.Tuples(RelProvenance)
	require.Len(t, provs, 1)
	p := provs[0]
	assert.Equal(t, int64(7), p[0].Int())
	assert.Equal(t, "https://slsa.dev/provenance/v1", p[2].Str())
	assert.Equal(t, "https://github.com/actions/runner", p[3].Str())
	assert.Equal(t, "https://github.com/left-pad/left-pad", p[5].Str())
	assert.Equal(t, "refs/tags/v1.3.0", p[6].Str())

	payload := p[8]
	assert.True(t, fb.Contains(RelJSONRoot, sym("provenance/7"), payload))
	assert.True(t, fb.Contains(RelProvenanceSubjectDigest, num(7), sym("left-pad-1.3.0.tgz"), sym("sha256"), sym(subjectSHA)))
	assert.True(t, fb.Contains(RelProvenanceSubject, num(1), sym(subjectSHA)))
}

const builderExpectation = `
package expectation

target := "pkg:npm/left-pad"

default allow := false

allow if {
	input.predicate.runDetails.builder.id == "https://github.com/actions/runner"
}
`

func TestCompileExpectations(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	snap.Provenances = []Provenance{
		{ID: 7, ComponentID: 1, Payload: provenanceEnvelope("https://github.com/actions/runner")},
		{ID: 8, ComponentID: 1, Payload: provenanceEnvelope("https://evil.example/builder")},
		{ID: 9, ComponentID: 2, Payload: provenanceEnvelope("https://github.com/actions/runner")},
	}
	snap.Expectations = []Expectation{
		{ID: 1, Document: builderExpectation},
		{ID: 2, ComponentID: 2, Document: "package expectation\n broken {{{"},
	}

	fb, err := Compile(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, []datalog.Tuple{
		{num(1), num(1), sym("pkg:npm/left-pad")},
		{num(2), num(2), sym("pkg:npm/is-odd@3.0.1")},
	}, fb.Tuples(RelExpectation))
	assert.Equal(t, []datalog.Tuple{
		{num(1), num(7), num(1), sym("conforms")},
		{num(1), num(8), num(0), sym("violates")},
		{num(2), num(9), num(0), sym("schema_invalid")},
	}, fb.Tuples(RelExpectationResult))
}

type stubValidator struct {
	target  string
	outcome expect.Outcome
}

func (s stubValidator) ExtractTarget(context.Context, []byte) (string, bool) {
	return s.target, s.target != ""
}

func (s stubValidator) Validate(context.Context, []byte, []byte) expect.Outcome {
	return s.outcome
}

func TestCompileWithValidator(t *testing.T) {
	t.Parallel()

	snap := baseSnapshot()
	snap.Provenances = []Provenance{{ID: 9, ComponentID: 2, Payload: provenanceEnvelope("b")}}
	snap.Expectations = []Expectation{{ID: 3, Document: "anything"}}

	fb, err := Compile(context.Background(), snap,
		WithValidator(stubValidator{target: "pkg:npm/is-odd@3.0.1", outcome: expect.Conforms}))
	require.NoError(t, err)
	assert.True(t, fb.Contains(RelExpectationResult, num(3), num(9), num(1), sym("conforms")))
}

func TestCompileRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Snapshot)
		relation string
		reason   string
	}{
		{
			name:     "malformed check id",
			mutate:   func(s *Snapshot) { s.Checks[0].CheckID = "build_service" },
			relation: RelCheckResult,
			reason:   "does not match",
		},
		{
			name:     "check id without number",
			mutate:   func(s *Snapshot) { s.Checks[0].CheckID = "mcn_build_service_" },
			relation: RelCheckResult,
			reason:   "does not match",
		},
		{
			name:     "confidence above one",
			mutate:   func(s *Snapshot) { s.Checks[0].Facts[0].Confidence = 1.5 },
			relation: RelCheckFacts,
			reason:   "outside [0, 1]",
		},
		{
			name:     "negative confidence",
			mutate:   func(s *Snapshot) { s.Checks[0].Facts[0].Confidence = -0.1 },
			relation: RelCheckFacts,
			reason:   "outside [0, 1]",
		},
		{
			name:     "conflicting purls",
			mutate:   func(s *Snapshot) { s.Components = append(s.Components, Component{ID: 1, PURL: "pkg:npm/other@1"}) },
			relation: RelComponent,
			reason:   "two purls",
		},
		{
			name:     "raw row arity",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{RelDependency: {{1}}} },
			relation: RelDependency,
			reason:   "has 1 values, want 2",
		},
		{
			name:     "raw row type",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{RelDependency: {{1, "two"}}} },
			relation: RelDependency,
			reason:   "as number",
		},
		{
			name:     "raw fractional number",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{RelDependency: {{1, 2.5}}} },
			relation: RelDependency,
			reason:   "as number",
		},
		{
			name:     "raw row domain check",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{RelCheckFacts: {{1, 100, 2.0, 1}}} },
			relation: RelCheckFacts,
			reason:   "outside [0, 1]",
		},
		{
			name:     "unknown relation",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{"check_passed": {{1, "x"}}} },
			relation: "check_passed",
			reason:   "not an extensional relation",
		},
		{
			name:     "bad provenance",
			mutate:   func(s *Snapshot) { s.Provenances = []Provenance{{ID: 3, ComponentID: 1, Payload: "{}"}} },
			relation: RelProvenance,
			reason:   "record 3",
		},
		{
			name: "expectation without target",
			mutate: func(s *Snapshot) {
				s.Expectations = []Expectation{{ID: 4, Document: "package expectation\n\nallow := true\n"}}
			},
			relation: RelExpectation,
			reason:   "no target",
		},
		{
			name:     "zero component id",
			mutate:   func(s *Snapshot) { s.Components = append(s.Components, Component{ID: 0, PURL: "pkg:npm/zero@1"}) },
			relation: RelComponent,
			reason:   "reserved",
		},
		{
			name:     "zero component id in raw rows",
			mutate:   func(s *Snapshot) { s.Relations = map[string][][]any{RelComponent: {{0, "pkg:npm/zero@1"}}} },
			relation: RelComponent,
			reason:   "reserved",
		},
		{
			name: "duplicate document key",
			mutate: func(s *Snapshot) {
				s.Documents = []Document{{Name: "d", Value: json.RawMessage(`{"a": 1, "a": 2}`)}}
			},
			relation: RelJSONRoot,
			reason:   `document "d"`,
		},
		{
			name:     "unnamed document",
			mutate:   func(s *Snapshot) { s.Documents = []Document{{Value: 1}} },
			relation: RelJSONRoot,
			reason:   "without a name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			snap := baseSnapshot()
			tt.mutate(snap)
			_, err := Compile(context.Background(), snap)
			require.ErrorIs(t, err, datalog.ErrSchema)

			var serr *datalog.SchemaError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.relation, serr.Relation)
			assert.Contains(t, serr.Reason, tt.reason)
		})
	}
}

func TestCompileNilSnapshot(t *testing.T) {
	t.Parallel()

	fb, err := Compile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, fb.Size())
	assert.Len(t, fb.Relations(), len(Schema()))
}

func TestCompileRespectsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compile(ctx, baseSnapshot())
	require.ErrorIs(t, err, context.Canceled)
}
