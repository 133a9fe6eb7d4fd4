// Package prelude provides the built-in relations every policy is analyzed
// against: convenience views over the extensional schema, the document
// path relation and the policy protocol relations.
package prelude

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/facts"
)

// FileName is the name the prelude is parsed under; it appears in positions
// of errors raised against built-in rules.
const FileName = "prelude.dl"

// Policy protocol relations.
const (
	RelPolicy        = "Policy"
	RelApplyPolicyTo = "ApplyPolicyTo"
)

// OpenRelations are the built-in relations policies add rules to.
var OpenRelations = []string{RelPolicy, RelApplyPolicyTo}

//go:embed prelude.dl
var source string

var (
	parseOnce sync.Once
	parsed    *datalog.Program
	parseErr  error
)

// Source returns the prelude rule text.
func Source() string { return source }

// Program returns the parsed prelude. The result is shared and must not be
// modified.
func Program() (*datalog.Program, error) {
	parseOnce.Do(func() {
		parsed, parseErr = datalog.Parse(FileName, source)
	})
	return parsed, parseErr
}

// Analyze checks a user program against the extensional schema and the
// prelude, with the policy protocol relations left open.
func Analyze(user *datalog.Program, opts ...datalog.AnalyzeOption) (*datalog.RuleSet, error) {
	builtin, err := Program()
	if err != nil {
		return nil, err
	}
	opts = append([]datalog.AnalyzeOption{datalog.WithOpenRelations(OpenRelations...)}, opts...)
	return datalog.Analyze(facts.Schema(), builtin, user, opts...)
}

// Resolved renders the extensional declarations followed by the prelude
// text, which together are everything a policy is analyzed against.
func Resolved() string {
	var b strings.Builder
	b.WriteString("// Extensional relations supplied by the fact base.\n\n")
	for _, d := range facts.Schema() {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(source)
	return b.String()
}
