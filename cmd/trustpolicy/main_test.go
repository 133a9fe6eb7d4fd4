package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/secure-systems-lab/go-securesystemslib/dsse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/trustpolicy/facts"
	"github.com/meigma/trustpolicy/verdict"
	"github.com/meigma/trustpolicy/vsa"
)

const snapshotJSON = `{
  "components": [{"id": 100, "purl": "pkg:maven/org.example/app@1.0"}],
  "checks": [{"id": 10, "check_id": "mcn_provenance_level_three_1", "passed": true, "component_id": 100}]
}`

const passingPolicy = `
Policy("p", c, "level three") :- check_passed(c, "mcn_provenance_level_three_1").
ApplyPolicyTo("p", 100).
`

const failingPolicy = `
Policy("q", c, "") :- check_passed(c, "mcn_build_service_1").
ApplyPolicyTo("q", 100).
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVerifyCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factsPath := writeFile(t, dir, "facts.json", snapshotJSON)

	tests := []struct {
		name   string
		policy string
		code   int
		passed []string
		failed []string
	}{
		{name: "passing", policy: passingPolicy, code: verdict.ExitPassed, passed: []string{"p"}, failed: []string{}},
		{name: "failing", policy: failingPolicy, code: verdict.ExitFailed, passed: []string{}, failed: []string{"q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			policyPath := writeFile(t, t.TempDir(), "policy.dl", tt.policy)
			reportPath := filepath.Join(t.TempDir(), "report.json")

			code, stdout, _ := execute(t, "verify", "--facts", factsPath, "--policy", policyPath, "--report", reportPath)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stdout, "policies")

			data, err := os.ReadFile(reportPath)
			require.NoError(t, err)
			var r verdict.Report
			require.NoError(t, json.Unmarshal(data, &r))
			assert.Equal(t, tt.passed, r.Passed)
			assert.Equal(t, tt.failed, r.Failed)
		})
	}
}

func TestVerifyCommandErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factsPath := writeFile(t, dir, "facts.json", snapshotJSON)
	badPolicy := writeFile(t, dir, "bad.dl", `Policy("p", c, "") :- component(1, _).`)
	badFacts := writeFile(t, dir, "bad.json", `{"checks": [{"id": 1, "check_id": "nope", "component_id": 1}]}`)
	goodPolicy := writeFile(t, dir, "good.dl", passingPolicy)
	reportPath := filepath.Join(dir, "report.json")

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{name: "rule set error", args: []string{"verify", "--facts", factsPath, "--policy", badPolicy, "--report", reportPath}, msg: "invalid rule set"},
		{name: "schema error", args: []string{"verify", "--facts", badFacts, "--policy", goodPolicy, "--report", reportPath}, msg: "schema violation"},
		{name: "missing flag", args: []string{"verify", "--facts", factsPath}, msg: "policy"},
		{name: "missing file", args: []string{"verify", "--facts", filepath.Join(dir, "nope.json"), "--policy", goodPolicy}, msg: "nope.json"},
		{name: "bad time", args: []string{"verify", "--facts", factsPath, "--policy", goodPolicy, "--vsa", filepath.Join(dir, "vsa.json"), "--time", "yesterday"}, msg: "--time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, verdict.ExitError, code)
			assert.Contains(t, stderr, tt.msg)
		})
	}

	// No report is written on error.
	_, err := os.Stat(reportPath)
	assert.True(t, os.IsNotExist(err))
}

func TestVerifyCommandAttestation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factsPath := writeFile(t, dir, "facts.json", snapshotJSON)
	policyPath := writeFile(t, dir, "policy.dl", passingPolicy)
	vsaPath := filepath.Join(dir, "vsa.json")
	configPath := writeFile(t, dir, "config.yaml", "verifier_id: https://example.com/ci\nworkers: 2\n")

	code, _, _ := execute(t, "verify",
		"--facts", factsPath,
		"--policy", policyPath,
		"--vsa", vsaPath,
		"--time", "2024-06-01T00:00:00Z",
		"--config", configPath)
	require.Equal(t, verdict.ExitPassed, code)

	data, err := os.ReadFile(vsaPath)
	require.NoError(t, err)
	var env dsse.Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	stmt, err := vsa.Verify(context.Background(), &env)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/ci", stmt.Predicate.Verifier.ID)
	assert.Equal(t, "2024-06-01T00:00:00Z", stmt.Predicate.TimeVerified)
	assert.Equal(t, "pkg:maven/org.example/app@1.0", stmt.Predicate.ResourceURI)
	assert.Equal(t, policyPath, stmt.Predicate.Policy.URI)
	assert.Equal(t, vsa.Passed, stmt.Predicate.VerificationResult)
}

func TestVerifyCommandYAMLFacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	snap := &facts.Snapshot{
		Components: []facts.Component{{ID: 100, PURL: "pkg:maven/org.example/app@1.0"}},
		Checks:     []facts.CheckResult{{ID: 10, CheckID: "mcn_provenance_level_three_1", Passed: true, ComponentID: 100}},
	}
	var buf bytes.Buffer
	require.NoError(t, facts.Encode(&buf, snap, facts.FormatYAML, true))
	factsPath := writeFile(t, dir, "facts.yaml.zst", buf.String())
	policyPath := writeFile(t, dir, "policy.dl", passingPolicy)

	code, _, stderr := execute(t, "verify", "--facts", factsPath, "--policy", policyPath, "-v")
	assert.Equal(t, verdict.ExitPassed, code)
	assert.Contains(t, stderr, "level=DEBUG")
}

func TestPreludeCommand(t *testing.T) {
	t.Parallel()

	code, stdout, _ := execute(t, "prelude")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, ".decl check_passed(component: number, check: symbol)")
	assert.Contains(t, stdout, ".decl component(id: number, purl: symbol)")
}

func TestShowPrelude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factsPath := writeFile(t, dir, "facts.json", snapshotJSON)
	policyPath := writeFile(t, dir, "policy.dl", passingPolicy)

	code, stdout, _ := execute(t, "verify", "--facts", factsPath, "--policy", policyPath, "--show-prelude")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, ".decl transitive_dependency(")
	assert.Contains(t, stdout, "passed policies (1)")
}
