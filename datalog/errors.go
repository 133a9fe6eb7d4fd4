package datalog

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for rule evaluation.
var (
	// ErrSchema indicates a fact does not match its relation's declared schema.
	ErrSchema = errors.New("datalog: schema violation")

	// ErrRuleSet indicates a rule set failed static analysis.
	ErrRuleSet = errors.New("datalog: invalid rule set")

	// ErrNontermination indicates a stratum exceeded the iteration cap.
	ErrNontermination = errors.New("datalog: iteration cap exceeded")
)

// SchemaError reports a malformed fact or relation declaration.
type SchemaError struct {
	// Relation is the offending relation.
	Relation string

	// Reason describes the mismatch.
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%v: relation %q: %s", ErrSchema, e.Relation, e.Reason)
}

// Unwrap returns ErrSchema.
func (e *SchemaError) Unwrap() error { return ErrSchema }

// RuleSetError reports a rule set rejected before evaluation, or a syntax error.
type RuleSetError struct {
	// Pos is the source position of the offending rule or token.
	Pos Pos

	// Rule is the offending rule rendered back to text, if known.
	Rule string

	// Reason describes the problem.
	Reason string
}

func (e *RuleSetError) Error() string {
	var b strings.Builder
	b.WriteString(ErrRuleSet.Error())
	b.WriteString(": ")
	if e.Pos.Line > 0 {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if e.Rule != "" {
		b.WriteString(" in `")
		b.WriteString(e.Rule)
		b.WriteString("`")
	}
	return b.String()
}

// Unwrap returns ErrRuleSet.
func (e *RuleSetError) Unwrap() error { return ErrRuleSet }

// NonterminationError reports a stratum that did not reach a fixed point
// within the configured number of rounds.
type NonterminationError struct {
	Stratum    int
	Relations  []string
	Iterations int
}

func (e *NonterminationError) Error() string {
	return fmt.Sprintf("%v: stratum %d (%s) still growing after %d rounds",
		ErrNontermination, e.Stratum, strings.Join(e.Relations, ", "), e.Iterations)
}

// Unwrap returns ErrNontermination.
func (e *NonterminationError) Unwrap() error { return ErrNontermination }

func ruleErr(pos Pos, rule fmt.Stringer, format string, args ...any) *RuleSetError {
	e := &RuleSetError{Pos: pos, Reason: fmt.Sprintf(format, args...)}
	if rule != nil {
		e.Rule = rule.String()
	}
	return e
}
