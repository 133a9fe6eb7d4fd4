package datalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgram(t *testing.T) {
	t.Parallel()

	src := `// trust policy
#include "prelude.dl"
.decl score(component: number, value: float)
.output score

/* facts and rules */
score(1, 0.5).
score(c, v) :- check_facts(_, _, v, c), v >= 0.7, !excluded(c).
count_ok(c, n) :- component(c, _), n = count : { check_passed(c, _) }.
score(c, a) <= score(c, b) :- a < b.
all_ok(c) :- component(c, _), forall { dependency(c, d) => check_passed(d, "mcn_x_1") }.
`
	prog, err := Parse("policy.dl", src)
	require.NoError(t, err)

	require.Len(t, prog.Decls, 1)
	assert.Equal(t, ".decl score(component: number, value: float)", prog.Decls[0].String())
	assert.Equal(t, 3, prog.Decls[0].Pos.Line)

	require.Len(t, prog.Rules, 4)
	assert.Equal(t, "score(1, 0.5).", prog.Rules[0].String())
	assert.Equal(t, `score(c, v) :- check_facts(_, _, v, c), v >= 0.7, !excluded(c).`, prog.Rules[1].String())
	assert.Equal(t, "count_ok(c, n) :- component(c, _), n = count : { check_passed(c, _) }.", prog.Rules[2].String())
	assert.Equal(t, `all_ok(c) :- component(c, _), forall { dependency(c, d) => check_passed(d, "mcn_x_1") }.`, prog.Rules[3].String())
	assert.Equal(t, 7, prog.Rules[0].Pos.Line)

	require.Len(t, prog.Subsumptions, 1)
	assert.Equal(t, "score(c, a) <= score(c, b) :- a < b.", prog.Subsumptions[0].String())
}

func TestParseTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "precedence", src: "p(x + y * 2) :- q(x, y).", want: "p((x + (y * 2))) :- q(x, y)."},
		{name: "negative literal", src: "p(-3) :- q(_).", want: "p(-3) :- q(_)."},
		{name: "negated expression", src: "p(-x) :- q(x).", want: "p(-x) :- q(x)."},
		{name: "functor", src: `p(cat(a, "/", b)) :- q(a, b).`, want: `p(cat(a, "/", b)) :- q(a, b).`},
		{name: "booleans", src: "p(true, false).", want: "p(true, false)."},
		{name: "escapes", src: `p("a\"b").`, want: `p("a\"b").`},
		{name: "float exponent", src: "p(1e3).", want: "p(1000.0)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prog, err := Parse("t.dl", tt.src)
			require.NoError(t, err)
			require.Len(t, prog.Rules, 1)
			assert.Equal(t, tt.want, prog.Rules[0].String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    string
		line   int
		reason string
	}{
		{name: "missing dot", src: "p(x) :- q(x)", line: 1, reason: "expected `.`"},
		{name: "unknown type", src: "\n.decl p(x: text)", line: 2, reason: `unknown type "text"`},
		{name: "unterminated string", src: `p("abc).`, line: 1, reason: "unterminated string"},
		{name: "unterminated comment", src: "/* open", line: 1, reason: "unterminated block comment"},
		{name: "unknown functor", src: "p(x) :- q(y), x = upper(y).", line: 1, reason: `unknown functor "upper"`},
		{name: "reserved variable", src: "p(count) :- q(count).", line: 1, reason: "reserved word"},
		{name: "count with target", src: "p(n) :- n = count x : { q(x) }.", line: 1, reason: "count takes no target"},
		{name: "sum without target", src: "p(n) :- n = sum : { q(x) }.", line: 1, reason: "sum requires a target"},
		{name: "bad character", src: "p(x) :- q(x) & r(x).", line: 1, reason: "unexpected character"},
		{name: "unknown directive", src: ".type T = number", line: 1, reason: "unknown directive"},
		{name: "overflow", src: "p(99999999999999999999).", line: 1, reason: "out of range"},
		{name: "builtin arity", src: `p(x) :- q(x), contains(x).`, line: 1, reason: "contains expects 2 arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse("bad.dl", tt.src)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrRuleSet)

			var rerr *RuleSetError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.line, rerr.Pos.Line)
			assert.Equal(t, "bad.dl", rerr.Pos.File)
			assert.Contains(t, rerr.Reason, tt.reason)
		})
	}
}

func TestRuleSetErrorMessage(t *testing.T) {
	t.Parallel()

	err := &RuleSetError{
		Pos:    Pos{File: "policy.dl", Line: 4, Col: 1},
		Rule:   "p(x) :- q(y).",
		Reason: `ungrounded variable "x" in head p(x)`,
	}
	assert.Equal(t,
		"datalog: invalid rule set: policy.dl:4:1: ungrounded variable \"x\" in head p(x) in `p(x) :- q(y).`",
		err.Error())
}
