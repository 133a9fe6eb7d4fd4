package datalog

import (
	"fmt"
	"strings"
)

// Pos is a position in rule source text.
type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Column is one typed attribute of a relation.
type Column struct {
	Name string
	Type Type
}

// Decl is a relation schema.
type Decl struct {
	Name    string
	Columns []Column
	Pos     Pos
}

// Arity returns the number of columns.
func (d Decl) Arity() int { return len(d.Columns) }

// String renders the declaration in rule syntax.
func (d Decl) String() string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.Name + ": " + c.Type.String()
	}
	return ".decl " + d.Name + "(" + strings.Join(cols, ", ") + ")"
}

// Term is an argument position: a variable, wildcard, constant or expression.
type Term interface {
	fmt.Stringer
	isTerm()
}

// Var is a named variable.
type Var struct{ Name string }

// Wildcard is the anonymous variable "_".
type Wildcard struct{}

// Const is a literal value.
type Const struct{ Value Value }

// Call applies a functor such as cat or strlen.
type Call struct {
	Fn   string
	Args []Term
}

// BinOp is an arithmetic expression.
type BinOp struct {
	Op   string
	L, R Term
}

// Neg is arithmetic negation.
type Neg struct{ X Term }

func (Var) isTerm()      {}
func (Wildcard) isTerm() {}
func (Const) isTerm()    {}
func (Call) isTerm()     {}
func (BinOp) isTerm()    {}
func (Neg) isTerm()      {}

func (v Var) String() string    { return v.Name }
func (Wildcard) String() string { return "_" }
func (c Const) String() string  { return c.Value.String() }
func (c Call) String() string   { return c.Fn + "(" + joinTerms(c.Args) + ")" }
func (b BinOp) String() string  { return "(" + b.L.String() + " " + b.Op + " " + b.R.String() + ")" }
func (n Neg) String() string    { return "-" + n.X.String() }

func joinTerms(ts []Term) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// Atom is a predicate applied to terms.
type Atom struct {
	Pred string
	Args []Term
	Pos  Pos
}

func (a Atom) String() string { return a.Pred + "(" + joinTerms(a.Args) + ")" }

// Literal is one element of a rule body. The set of implementations is closed:
// Atom, Negation, Comparison, Builtin, Aggregate and Forall.
type Literal interface {
	fmt.Stringer
	isLiteral()
}

// Negation is "!atom".
type Negation struct{ Atom Atom }

// Comparison is a binary constraint. An "=" whose one side is an otherwise
// unbound variable acts as an assignment.
type Comparison struct {
	Op   string
	L, R Term
	Pos  Pos
}

// Builtin is a built-in predicate: contains(sub, s) or match(regex, s).
type Builtin struct {
	Name string
	Args []Term
	Pos  Pos
}

// Aggregate binds Result to count, sum, min or max over the inner body.
type Aggregate struct {
	Result string
	Fn     string
	Target Term
	Body   []Literal
	Pos    Pos
}

// Forall holds when every binding of Range satisfies Cond.
type Forall struct {
	Range []Atom
	Cond  []Literal
	Pos   Pos
}

func (Atom) isLiteral()       {}
func (Negation) isLiteral()   {}
func (Comparison) isLiteral() {}
func (Builtin) isLiteral()    {}
func (Aggregate) isLiteral()  {}
func (Forall) isLiteral()     {}

func (n Negation) String() string   { return "!" + n.Atom.String() }
func (c Comparison) String() string { return c.L.String() + " " + c.Op + " " + c.R.String() }
func (b Builtin) String() string    { return b.Name + "(" + joinTerms(b.Args) + ")" }

func (a Aggregate) String() string {
	fn := a.Fn
	if a.Target != nil {
		fn += " " + a.Target.String()
	}
	return a.Result + " = " + fn + " : { " + joinLiterals(a.Body) + " }"
}

func (f Forall) String() string {
	rng := make([]string, len(f.Range))
	for i, a := range f.Range {
		rng[i] = a.String()
	}
	return "forall { " + strings.Join(rng, ", ") + " => " + joinLiterals(f.Cond) + " }"
}

func joinLiterals(ls []Literal) string {
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}

// Rule derives Head whenever Body holds. A rule with an empty body is a fact.
type Rule struct {
	Head Atom
	Body []Literal
	Pos  Pos
}

func (r Rule) String() string {
	if len(r.Body) == 0 {
		return r.Head.String() + "."
	}
	return r.Head.String() + " :- " + joinLiterals(r.Body) + "."
}

// Subsumption removes Dominated facts whenever a distinct Dominating fact of
// the same relation exists and Body holds.
type Subsumption struct {
	Dominated  Atom
	Dominating Atom
	Body       []Literal
	Pos        Pos
}

func (s Subsumption) String() string {
	out := s.Dominated.String() + " <= " + s.Dominating.String()
	if len(s.Body) > 0 {
		out += " :- " + joinLiterals(s.Body)
	}
	return out + "."
}

// Program is the parsed content of one rule source.
type Program struct {
	Name         string
	Decls        []Decl
	Rules        []Rule
	Subsumptions []Subsumption
}
