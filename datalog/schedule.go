package datalog

import (
	"fmt"
	"slices"
)

type schedMode uint8

const (
	modeScan schedMode = iota
	modeNegate
	modeFilter
	modeAssign
	modeBuiltin
	modeAggregate
)

// item is one literal placed in evaluation order.
type item struct {
	lit  Literal
	mode schedMode

	// assignLeft marks an assignment whose unbound variable is the left side.
	assignLeft bool

	delta   bool
	capture int

	// inner and corr describe aggregates: the inner evaluation order and
	// the variables shared with the rest of the rule.
	inner []item
	corr  []string
}

// scheduler orders body literals so that every literal runs only once the
// variables it needs are bound. A literal that can never be scheduled holds
// an ungrounded variable.
type scheduler struct {
	stmt fmt.Stringer
	pos  Pos
}

func (s *scheduler) errorf(format string, args ...any) error {
	return ruleErr(s.pos, s.stmt, format, args...)
}

// schedule orders lits given the variables bound on entry. deltaIdx names
// the positive atom to read from the delta set (-1 for none) and captures
// maps atom indexes to capture slots. context holds the variables used
// outside lits (the head, for a rule body).
func (s *scheduler) schedule(lits []Literal, bound map[string]bool, deltaIdx int, captures map[int]int, context map[string]bool) ([]item, error) {
	type pending struct {
		idx int
		lit Literal
	}
	var atoms, rest []pending
	for i, l := range lits {
		if _, ok := l.(Atom); ok {
			atoms = append(atoms, pending{i, l})
		} else {
			rest = append(rest, pending{i, l})
		}
	}
	// Delta atom goes first when it can.
	if deltaIdx >= 0 {
		for j, p := range atoms {
			if p.idx == deltaIdx {
				atoms = append([]pending{p}, slices.Delete(atoms, j, j+1)...)
				break
			}
		}
	}

	var out []item
	for {
		// Drain every literal that is ready.
		for progressed := true; progressed; {
			progressed = false
			for j := 0; j < len(rest); j++ {
				it, ok, err := s.ready(lits, rest[j].idx, bound, context)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				out = append(out, it)
				s.bindAfter(it, bound)
				rest = slices.Delete(rest, j, j+1)
				progressed = true
				break
			}
		}
		if len(atoms) == 0 {
			break
		}
		picked := -1
		for j, p := range atoms {
			if atomReady(p.lit.(Atom), bound) {
				picked = j
				break
			}
		}
		if picked < 0 {
			a := atoms[0].lit.(Atom)
			return nil, s.errorf("ungrounded variable %q in %s", firstUnbound(a, bound), a)
		}
		p := atoms[picked]
		atoms = slices.Delete(atoms, picked, picked+1)
		it := item{lit: p.lit, mode: modeScan, delta: p.idx == deltaIdx, capture: -1}
		if c, ok := captures[p.idx]; ok {
			it.capture = c
		}
		out = append(out, it)
		s.bindAfter(it, bound)
	}
	if len(rest) > 0 {
		l := rest[0].lit
		return nil, s.errorf("ungrounded variable %q in %s", firstUnbound(l, bound), l)
	}
	return out, nil
}

// ready reports whether lits[idx] can run with the current bindings.
func (s *scheduler) ready(lits []Literal, idx int, bound, context map[string]bool) (item, bool, error) {
	switch l := lits[idx].(type) {
	case Negation:
		return item{lit: l, mode: modeNegate}, allBound(l, bound), nil
	case Builtin:
		return item{lit: l, mode: modeBuiltin}, allBound(l, bound), nil
	case Comparison:
		if l.Op == "=" {
			if v, ok := l.L.(Var); ok && !bound[v.Name] && termBound(l.R, bound) {
				return item{lit: l, mode: modeAssign, assignLeft: true}, true, nil
			}
			if v, ok := l.R.(Var); ok && !bound[v.Name] && termBound(l.L, bound) {
				return item{lit: l, mode: modeAssign}, true, nil
			}
		}
		return item{lit: l, mode: modeFilter}, allBound(l, bound), nil
	case Aggregate:
		return s.readyAggregate(lits, idx, l, bound, context)
	case Forall:
		return item{}, false, s.errorf("internal: forall survived rewriting")
	}
	return item{}, false, s.errorf("internal: unexpected literal %T", lits[idx])
}

func (s *scheduler) readyAggregate(lits []Literal, idx int, agg Aggregate, bound, context map[string]bool) (item, bool, error) {
	outside := make(map[string]bool, len(context))
	for v := range context {
		outside[v] = true
	}
	for j, l := range lits {
		if j != idx {
			literalVars(l, func(v string) { outside[v] = true })
		}
	}
	inside := make(map[string]bool)
	for _, l := range agg.Body {
		if _, nested := l.(Aggregate); nested {
			return item{}, false, s.errorf("nested aggregates are not supported")
		}
		literalVars(l, func(v string) { inside[v] = true })
	}
	if agg.Target != nil {
		termVars(agg.Target, func(v string) { inside[v] = true })
	}
	if inside[agg.Result] {
		return item{}, false, s.errorf("aggregate result %q also appears inside the aggregate", agg.Result)
	}
	var corr []string
	for v := range inside {
		if outside[v] {
			corr = append(corr, v)
		}
	}
	slices.Sort(corr)
	for _, v := range corr {
		if !bound[v] {
			return item{}, false, nil
		}
	}

	innerBound := cloneSet(bound)
	inner, err := s.schedule(agg.Body, innerBound, -1, nil, nil)
	if err != nil {
		return item{}, false, err
	}
	if agg.Target != nil && !termBound(agg.Target, innerBound) {
		var missing string
		termVars(agg.Target, func(v string) {
			if missing == "" && !innerBound[v] {
				missing = v
			}
		})
		return item{}, false, s.errorf("ungrounded variable %q in aggregate target", missing)
	}
	return item{lit: agg, mode: modeAggregate, inner: inner, corr: corr}, true, nil
}

func (s *scheduler) bindAfter(it item, bound map[string]bool) {
	switch l := it.lit.(type) {
	case Atom:
		for _, t := range l.Args {
			if v, ok := t.(Var); ok {
				bound[v.Name] = true
			}
		}
	case Comparison:
		if it.mode == modeAssign {
			if it.assignLeft {
				bound[l.L.(Var).Name] = true
			} else {
				bound[l.R.(Var).Name] = true
			}
		}
	case Aggregate:
		bound[l.Result] = true
	}
}

func atomReady(a Atom, bound map[string]bool) bool {
	for _, t := range a.Args {
		switch t.(type) {
		case Var, Wildcard, Const:
		default:
			if !termBound(t, bound) {
				return false
			}
		}
	}
	return true
}

func termBound(t Term, bound map[string]bool) bool {
	ok := true
	termVars(t, func(v string) {
		if !bound[v] {
			ok = false
		}
	})
	return ok
}

func allBound(l Literal, bound map[string]bool) bool {
	ok := true
	literalVars(l, func(v string) {
		if !bound[v] {
			ok = false
		}
	})
	return ok
}

func firstUnbound(l Literal, bound map[string]bool) string {
	var first string
	literalVars(l, func(v string) {
		if first == "" && !bound[v] {
			first = v
		}
	})
	return first
}

func termVars(t Term, fn func(string)) {
	switch t := t.(type) {
	case Var:
		fn(t.Name)
	case Call:
		for _, a := range t.Args {
			termVars(a, fn)
		}
	case BinOp:
		termVars(t.L, fn)
		termVars(t.R, fn)
	case Neg:
		termVars(t.X, fn)
	}
}

func literalVars(l Literal, fn func(string)) {
	switch l := l.(type) {
	case Atom:
		for _, t := range l.Args {
			termVars(t, fn)
		}
	case Negation:
		for _, t := range l.Atom.Args {
			termVars(t, fn)
		}
	case Comparison:
		termVars(l.L, fn)
		termVars(l.R, fn)
	case Builtin:
		for _, t := range l.Args {
			termVars(t, fn)
		}
	case Aggregate:
		fn(l.Result)
		if l.Target != nil {
			termVars(l.Target, fn)
		}
		for _, b := range l.Body {
			literalVars(b, fn)
		}
	case Forall:
		for _, a := range l.Range {
			literalVars(a, fn)
		}
		for _, c := range l.Cond {
			literalVars(c, fn)
		}
	}
}

func cloneSet(m map[string]bool) map[string]bool {
	c := make(map[string]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
