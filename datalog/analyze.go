package datalog

import (
	"fmt"
	"slices"
	"strings"
)

type relKind uint8

const (
	kindExtensional relKind = iota + 1
	kindBuiltin
	kindUser
	kindAux
)

// AnalyzeOption configures Analyze.
type AnalyzeOption func(*analyzer)

// WithOpenRelations names built-in relations that user rules may still add
// facts and rules to.
func WithOpenRelations(names ...string) AnalyzeOption {
	return func(a *analyzer) {
		for _, n := range names {
			a.open[n] = true
		}
	}
}

type analyzer struct {
	decls map[string]Decl
	kinds map[string]relKind
	order []string
	open  map[string]bool
	rules []*compiledRule
	subs  []*compiledSub
	aux   int
}

// compiledRule is a rule after rewriting, ready for scheduling.
type compiledRule struct {
	src   Rule
	owner relKind
	edges []edge
	naive *plan

	// variants holds one plan per body atom that reads a relation of the
	// rule's own stratum, with that atom reading the delta set.
	variants []variant
}

type variant struct {
	rel string
	*plan
}

type compiledSub struct {
	src   Subsumption
	edges []edge
	*plan
}

// Analyze checks the built-in and user programs against the extensional
// schema and compiles them into a stratified RuleSet. Every problem found is
// reported as a *RuleSetError before any evaluation happens.
func Analyze(schema []Decl, builtin, user *Program, opts ...AnalyzeOption) (*RuleSet, error) {
	a := &analyzer{
		decls: make(map[string]Decl),
		kinds: make(map[string]relKind),
		open:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range schema {
		if _, dup := a.kinds[d.Name]; dup {
			return nil, &SchemaError{Relation: d.Name, Reason: "declared twice in the extensional schema"}
		}
		a.declare(d, kindExtensional)
	}

	type source struct {
		prog *Program
		kind relKind
	}
	sources := []source{{builtin, kindBuiltin}, {user, kindUser}}
	for _, src := range sources {
		if src.prog == nil {
			continue
		}
		for _, d := range src.prog.Decls {
			if err := a.addDecl(d, src.kind); err != nil {
				return nil, err
			}
		}
	}
	for _, src := range sources {
		if src.prog == nil {
			continue
		}
		for _, r := range src.prog.Rules {
			if err := a.addRule(r, src.kind); err != nil {
				return nil, err
			}
		}
		for _, s := range src.prog.Subsumptions {
			if err := a.addSubsumption(s, src.kind); err != nil {
				return nil, err
			}
		}
	}
	return a.finish()
}

func (a *analyzer) declare(d Decl, kind relKind) {
	a.decls[d.Name] = d
	a.kinds[d.Name] = kind
	a.order = append(a.order, d.Name)
}

func (a *analyzer) addDecl(d Decl, kind relKind) error {
	if strings.HasPrefix(d.Name, "__") {
		return ruleErr(d.Pos, d, "relation names starting with \"__\" are reserved")
	}
	if prev, ok := a.kinds[d.Name]; ok {
		if prev == kindUser && kind == kindUser {
			return ruleErr(d.Pos, d, "relation %q declared twice (first at %s)", d.Name, a.decls[d.Name].Pos)
		}
		return ruleErr(d.Pos, d, "redefinition of built-in relation %q", d.Name)
	}
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if seen[c.Name] {
			return ruleErr(d.Pos, d, "duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	a.declare(d, kind)
	return nil
}

// checkTarget validates a relation that a statement adds facts to.
func (a *analyzer) checkTarget(at Atom, owner relKind, stmt fmt.Stringer) error {
	k, ok := a.kinds[at.Pred]
	if !ok {
		return ruleErr(at.Pos, stmt, "undeclared relation %q", at.Pred)
	}
	switch {
	case k == kindExtensional:
		return ruleErr(at.Pos, stmt, "cannot derive facts for extensional relation %q", at.Pred)
	case owner == kindUser && k == kindBuiltin && !a.open[at.Pred]:
		return ruleErr(at.Pos, stmt, "cannot add rules to built-in relation %q", at.Pred)
	}
	if want := a.decls[at.Pred].Arity(); len(at.Args) != want {
		return ruleErr(at.Pos, stmt, "relation %q expects %d arguments, got %d", at.Pred, want, len(at.Args))
	}
	return nil
}

func (a *analyzer) addRule(r Rule, owner relKind) error {
	if err := a.checkTarget(r.Head, owner, r); err != nil {
		return err
	}
	rewritten, aux, err := a.rewrite(r)
	if err != nil {
		return err
	}
	for _, ar := range aux {
		if err := a.compileRule(ar, kindAux); err != nil {
			return err
		}
	}
	return a.compileRule(rewritten, owner)
}

func (a *analyzer) compileRule(r Rule, owner relKind) error {
	if err := a.checkBody(r.Body, r, r.Pos); err != nil {
		return err
	}
	p, err := a.planRule(r, -1)
	if err != nil {
		return err
	}
	a.rules = append(a.rules, &compiledRule{
		src:   r,
		owner: owner,
		edges: bodyEdges(r.Head.Pred, r.Body),
		naive: p,
	})
	return nil
}

// planRule schedules and compiles a rule body, with the positive atom at
// deltaIdx reading from the delta set.
func (a *analyzer) planRule(r Rule, deltaIdx int) (*plan, error) {
	sch := &scheduler{stmt: r, pos: r.Pos}
	context := make(map[string]bool)
	literalVars(r.Head, func(v string) { context[v] = true })
	items, err := sch.schedule(r.Body, map[string]bool{}, deltaIdx, nil, context)
	if err != nil {
		return nil, err
	}
	c := newCompiler(a.decls, r, r.Pos)
	bound := map[string]bool{}
	steps, err := c.items(items, bound)
	if err != nil {
		return nil, err
	}
	head, err := c.headExprs(r.Head, bound)
	if err != nil {
		return nil, err
	}
	return &plan{steps: steps, head: head, nslots: len(c.slots)}, nil
}

func (a *analyzer) addSubsumption(s Subsumption, owner relKind) error {
	if s.Dominated.Pred != s.Dominating.Pred {
		return ruleErr(s.Pos, s, "subsumption must relate facts of one relation, got %q and %q",
			s.Dominated.Pred, s.Dominating.Pred)
	}
	if err := a.checkTarget(s.Dominated, owner, s); err != nil {
		return err
	}
	if err := a.checkTarget(s.Dominating, owner, s); err != nil {
		return err
	}
	for _, l := range s.Body {
		if _, ok := l.(Forall); ok {
			return ruleErr(s.Pos, s, "forall is not supported in subsumption conditions")
		}
	}
	if err := a.checkBody(s.Body, s, s.Pos); err != nil {
		return err
	}

	lits := append([]Literal{s.Dominated, s.Dominating}, s.Body...)
	sch := &scheduler{stmt: s, pos: s.Pos}
	items, err := sch.schedule(lits, map[string]bool{}, -1, map[int]int{0: 0, 1: 1}, nil)
	if err != nil {
		return err
	}
	c := newCompiler(a.decls, s, s.Pos)
	steps, err := c.items(items, map[string]bool{})
	if err != nil {
		return err
	}
	a.subs = append(a.subs, &compiledSub{
		src:   s,
		edges: bodyEdges(s.Dominated.Pred, lits),
		plan:  &plan{steps: steps, nslots: len(c.slots)},
	})
	return nil
}

// checkBody verifies that every relation referenced in a body is declared.
func (a *analyzer) checkBody(body []Literal, stmt fmt.Stringer, pos Pos) error {
	var err error
	visitAtoms(body, func(at Atom, _ bool) {
		if err != nil {
			return
		}
		if _, ok := a.decls[at.Pred]; !ok {
			err = ruleErr(pos, stmt, "undeclared relation %q", at.Pred)
		}
	})
	return err
}

// visitAtoms calls fn for every atom in a body, positive or negated, and
// reports whether it sits under negation or inside an aggregate.
func visitAtoms(body []Literal, fn func(at Atom, strict bool)) {
	for _, l := range body {
		switch l := l.(type) {
		case Atom:
			fn(l, false)
		case Negation:
			fn(l.Atom, true)
		case Aggregate:
			visitAtoms(l.Body, func(at Atom, _ bool) { fn(at, true) })
		case Forall:
			for _, at := range l.Range {
				fn(at, true)
			}
			visitAtoms(l.Cond, func(at Atom, _ bool) { fn(at, true) })
		}
	}
}

// edge is a dependency from a derived relation to a relation its body reads.
// Strict edges go through negation or aggregation.
type edge struct {
	from, to string
	strict   bool
}

func bodyEdges(head string, body []Literal) []edge {
	var out []edge
	visitAtoms(body, func(at Atom, strict bool) {
		out = append(out, edge{from: head, to: at.Pred, strict: strict})
	})
	return out
}

// rewrite replaces forall literals with negations of auxiliary relations and
// gives wildcards inside aggregate bodies distinct names, so that every
// matched fact counts once.
func (a *analyzer) rewrite(r Rule) (Rule, []Rule, error) {
	var aux []Rule
	var rw func(lits []Literal, outside func(skip int) map[string]bool) ([]Literal, error)
	anon := 0
	rw = func(lits []Literal, outside func(skip int) map[string]bool) ([]Literal, error) {
		out := make([]Literal, 0, len(lits))
		for i, l := range lits {
			switch l := l.(type) {
			case Forall:
				neg, extra, err := a.lowerForall(r, l, outside(i))
				if err != nil {
					return nil, err
				}
				aux = append(aux, extra...)
				out = append(out, neg)
			case Aggregate:
				body := make([]Literal, len(l.Body))
				for j, b := range l.Body {
					if at, ok := b.(Atom); ok {
						args := slices.Clone(at.Args)
						for k, t := range args {
							if _, ok := t.(Wildcard); ok {
								anon++
								args[k] = Var{Name: fmt.Sprintf("_#%d", anon)}
							}
						}
						at.Args = args
						b = at
					}
					body[j] = b
				}
				inner := body
				innerOutside := func(skip int) map[string]bool {
					m := outside(i)
					for j, b := range inner {
						if j != skip {
							literalVars(b, func(v string) { m[v] = true })
						}
					}
					if l.Target != nil {
						termVars(l.Target, func(v string) { m[v] = true })
					}
					m[l.Result] = true
					return m
				}
				newBody, err := rw(body, innerOutside)
				if err != nil {
					return nil, err
				}
				l.Body = newBody
				out = append(out, l)
			default:
				out = append(out, l)
			}
		}
		return out, nil
	}
	topOutside := func(skip int) map[string]bool {
		m := make(map[string]bool)
		literalVars(r.Head, func(v string) { m[v] = true })
		for j, b := range r.Body {
			if j != skip {
				literalVars(b, func(v string) { m[v] = true })
			}
		}
		return m
	}
	body, err := rw(r.Body, topOutside)
	if err != nil {
		return Rule{}, nil, err
	}
	r.Body = body
	return r, aux, nil
}

// lowerForall compiles forall { R => C } into
//
//	__forall_ok_N(V)  :- R, C.
//	__forall_bad_N(O) :- R, !__forall_ok_N(V).
//
// and returns !__forall_bad_N(O), where V are the range variables and O
// those of them also used outside the quantifier.
func (a *analyzer) lowerForall(r Rule, f Forall, outside map[string]bool) (Literal, []Rule, error) {
	var rangeVars []string
	types := make(map[string]Type)
	for _, at := range f.Range {
		d, ok := a.decls[at.Pred]
		if !ok {
			return nil, nil, ruleErr(f.Pos, r, "undeclared relation %q", at.Pred)
		}
		if len(at.Args) != d.Arity() {
			return nil, nil, ruleErr(f.Pos, r, "relation %q expects %d arguments, got %d in %s", at.Pred, d.Arity(), len(at.Args), at)
		}
		for i, t := range at.Args {
			switch t := t.(type) {
			case Var:
				if prev, seen := types[t.Name]; seen {
					if prev != d.Columns[i].Type {
						return nil, nil, ruleErr(f.Pos, r, "variable %q used as %s and as %s in %s", t.Name, prev, d.Columns[i].Type, f)
					}
					continue
				}
				types[t.Name] = d.Columns[i].Type
				rangeVars = append(rangeVars, t.Name)
			case Wildcard, Const:
			default:
				return nil, nil, ruleErr(f.Pos, r, "forall range arguments must be variables or constants in %s", at)
			}
		}
	}

	var used []string
	literalVars(f, func(v string) {
		if !slices.Contains(used, v) {
			used = append(used, v)
		}
	})
	var outer []string
	for _, v := range used {
		if !outside[v] {
			continue
		}
		if _, inRange := types[v]; !inRange {
			return nil, nil, ruleErr(f.Pos, r, "variable %q used inside forall must appear in its range", v)
		}
		outer = append(outer, v)
	}

	n := a.aux
	a.aux++
	okName := fmt.Sprintf("__forall_ok_%d", n)
	badName := fmt.Sprintf("__forall_bad_%d", n)
	a.declare(auxDecl(okName, rangeVars, types, f.Pos), kindAux)
	a.declare(auxDecl(badName, outer, types, f.Pos), kindAux)

	okAtom := Atom{Pred: okName, Args: varTerms(rangeVars), Pos: f.Pos}
	badAtom := Atom{Pred: badName, Args: varTerms(outer), Pos: f.Pos}

	okBody := make([]Literal, 0, len(f.Range)+len(f.Cond))
	for _, at := range f.Range {
		okBody = append(okBody, at)
	}
	okBody = append(okBody, f.Cond...)
	okRule, extra, err := a.rewrite(Rule{Head: okAtom, Body: okBody, Pos: f.Pos})
	if err != nil {
		return nil, nil, err
	}

	badBody := make([]Literal, 0, len(f.Range)+1)
	for _, at := range f.Range {
		badBody = append(badBody, at)
	}
	badBody = append(badBody, Negation{Atom: okAtom})
	badRule := Rule{Head: badAtom, Body: badBody, Pos: f.Pos}

	rules := append(extra, okRule, badRule)
	return Negation{Atom: badAtom}, rules, nil
}

func auxDecl(name string, vars []string, types map[string]Type, pos Pos) Decl {
	d := Decl{Name: name, Pos: pos}
	for _, v := range vars {
		d.Columns = append(d.Columns, Column{Name: v, Type: types[v]})
	}
	return d
}

func varTerms(names []string) []Term {
	out := make([]Term, len(names))
	for i, n := range names {
		out[i] = Var{Name: n}
	}
	return out
}

func (a *analyzer) finish() (*RuleSet, error) {
	rs := &RuleSet{
		decls: a.decls,
		kinds: a.kinds,
		order: a.order,
		rules: a.rules,
		subs:  a.subs,
	}
	if err := rs.stratify(); err != nil {
		return nil, err
	}
	for _, r := range a.rules {
		level := rs.level[r.src.Head.Pred]
		for i, l := range r.src.Body {
			at, ok := l.(Atom)
			if !ok || a.kinds[at.Pred] == kindExtensional {
				continue
			}
			if lv, ok := rs.level[at.Pred]; !ok || lv != level {
				continue
			}
			p, err := a.planRule(r.src, i)
			if err != nil {
				return nil, err
			}
			r.variants = append(r.variants, variant{rel: at.Pred, plan: p})
		}
	}
	return rs, nil
}
