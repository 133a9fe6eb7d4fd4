package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/facts"
	"github.com/meigma/trustpolicy/prelude"
)

const levelThreePolicy = `
Policy("p", parent, "") :- check_passed(parent, "mcn_provenance_level_three_1").
ApplyPolicyTo("p", 100).
`

func evaluate(t *testing.T, snap *facts.Snapshot, policy string) (*datalog.RuleSet, *datalog.FactBase) {
	t.Helper()
	user, err := datalog.Parse("policy.dl", policy)
	require.NoError(t, err)
	rs, err := prelude.Analyze(user)
	require.NoError(t, err)
	fb, err := facts.Compile(context.Background(), snap)
	require.NoError(t, err)
	out, err := rs.Evaluate(context.Background(), fb)
	require.NoError(t, err)
	return rs, out
}

func levelThreeSnapshot(withCheck bool) *facts.Snapshot {
	snap := &facts.Snapshot{
		Components: []facts.Component{{ID: 100, PURL: "pkg:maven/org.example/app@1.0"}},
	}
	if withCheck {
		snap.Checks = []facts.CheckResult{
			{ID: 10, CheckID: "mcn_provenance_level_three_1", Passed: true, ComponentID: 100},
		}
	}
	return snap
}

func TestClassifyVerdictFlips(t *testing.T) {
	t.Parallel()

	_, out := evaluate(t, levelThreeSnapshot(true), levelThreePolicy)
	c := Classify(out)
	require.Len(t, c.Satisfied, 1)
	assert.Empty(t, c.Violated)
	assert.Equal(t, Verdict{
		PolicyID:  "p",
		Target:    100,
		Component: "pkg:maven/org.example/app@1.0",
		Satisfied: true,
	}, c.Satisfied[0])

	_, out = evaluate(t, levelThreeSnapshot(false), levelThreePolicy)
	c = Classify(out)
	assert.Empty(t, c.Satisfied)
	require.Len(t, c.Violated, 1)
	assert.Equal(t, "p", c.Violated[0].PolicyID)
	assert.Equal(t, int64(100), c.Violated[0].Target)
	assert.False(t, c.Violated[0].Satisfied)
}

func TestClassifyNotApplicable(t *testing.T) {
	t.Parallel()

	policy := `
Policy("unused", c, "never applied") :- component(c, _).
Policy("p", c, "has level three") :- check_passed(c, "mcn_provenance_level_three_1").
ApplyPolicyTo("p", c) :- component(c, _).
`
	rs, out := evaluate(t, levelThreeSnapshot(true), policy)
	c := Classify(out, PolicyIDs(rs)...)
	assert.Equal(t, []string{"unused"}, c.NotApplicable)
	require.Len(t, c.Satisfied, 1)
	assert.Equal(t, []string{"has level three"}, c.Satisfied[0].Messages)

	// Policies defined by rules that never fire are still known.
	_, out = evaluate(t, &facts.Snapshot{}, policy)
	c = Classify(out, PolicyIDs(rs)...)
	assert.Equal(t, []string{"p", "unused"}, c.NotApplicable)
	assert.Empty(t, c.Satisfied)
	assert.Empty(t, c.Violated)
}

func TestPolicyIDs(t *testing.T) {
	t.Parallel()

	policy := `
Policy("b", c, "") :- component(c, _).
ApplyPolicyTo("a", 1).
ApplyPolicyTo("b", c) :- component(c, _).
`
	user, err := datalog.Parse("policy.dl", policy)
	require.NoError(t, err)
	rs, err := prelude.Analyze(user)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, PolicyIDs(rs))
}

func TestClassifyMessages(t *testing.T) {
	t.Parallel()

	fb, err := datalog.NewFactBase(facts.Schema()...)
	require.NoError(t, err)
	rs, err := prelude.Analyze(nil)
	require.NoError(t, err)
	out, err := rs.Evaluate(context.Background(), fb)
	require.NoError(t, err)

	out.MustInsert(prelude.RelPolicy, datalog.Symbol("p"), datalog.Number(1), datalog.Symbol("second"))
	out.MustInsert(prelude.RelPolicy, datalog.Symbol("p"), datalog.Number(1), datalog.Symbol("first"))
	out.MustInsert(prelude.RelPolicy, datalog.Symbol("p"), datalog.Number(1), datalog.Symbol(""))
	out.MustInsert(prelude.RelApplyPolicyTo, datalog.Symbol("p"), datalog.Number(1))

	c := Classify(out)
	require.Len(t, c.Satisfied, 1)
	assert.Equal(t, []string{"first", "second"}, c.Satisfied[0].Messages)
	assert.Empty(t, c.Satisfied[0].Component)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	c := &Classification{
		Satisfied: []Verdict{
			{PolicyID: "ok", Target: 2, Satisfied: true},
			{PolicyID: "mixed", Target: 1, Satisfied: true},
			{PolicyID: "ok", Target: 1, Satisfied: true},
		},
		Violated: []Verdict{
			{PolicyID: "mixed", Target: 2},
			{PolicyID: "bad", Target: 3},
		},
		NotApplicable: []string{"idle"},
	}

	r := Aggregate(c)
	assert.Equal(t, []string{"ok"}, r.Passed)
	assert.Equal(t, []string{"bad", "mixed"}, r.Failed)
	assert.Equal(t, []string{"idle"}, r.NotApplicable)
	assert.Equal(t, ExitFailed, r.ExitCode())
	assert.Equal(t, []int64{1, 2, 3}, r.Targets())

	require.Len(t, r.Verdicts, 5)
	assert.Equal(t, "bad", r.Verdicts[0].PolicyID)
	assert.Equal(t, "ok", r.Verdicts[4].PolicyID)
	assert.Equal(t, int64(2), r.Verdicts[4].Target)

	v, ok := r.Verdict("mixed", 2)
	require.True(t, ok)
	assert.False(t, v.Satisfied)
	_, ok = r.Verdict("mixed", 9)
	assert.False(t, ok)
}

func TestAggregateExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    *Classification
		want int
	}{
		{name: "empty", c: &Classification{}, want: ExitPassed},
		{name: "only not applicable", c: &Classification{NotApplicable: []string{"x"}}, want: ExitPassed},
		{name: "all satisfied", c: &Classification{Satisfied: []Verdict{{PolicyID: "p", Target: 1, Satisfied: true}}}, want: ExitPassed},
		{name: "one violated", c: &Classification{Violated: []Verdict{{PolicyID: "p", Target: 1}}}, want: ExitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Aggregate(tt.c).ExitCode())
		})
	}
}

func TestReportJSON(t *testing.T) {
	t.Parallel()

	_, out := evaluate(t, levelThreeSnapshot(false), levelThreePolicy)
	r := Aggregate(Classify(out))

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []any{}, decoded["passed_policies"])
	assert.Equal(t, []any{"p"}, decoded["failed_policies"])
	assert.Equal(t, []any{}, decoded["not_applicable_policies"])

	var back Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, *r, back)
}

func TestReportText(t *testing.T) {
	t.Parallel()

	r := Aggregate(&Classification{
		Satisfied:     []Verdict{{PolicyID: "p", Target: 1, Component: "pkg:npm/a@1", Satisfied: true, Messages: []string{"fine"}}},
		Violated:      []Verdict{{PolicyID: "q", Target: 2}},
		NotApplicable: []string{"r"},
	})

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	want := `passed policies (1)
  p
    pkg:npm/a@1: satisfied
      fine
failed policies (1)
  q
    target 2: violated
not applicable (1)
  r
`
	assert.Equal(t, want, buf.String())
}
