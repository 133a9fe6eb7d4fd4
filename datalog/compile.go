package datalog

import (
	"fmt"
	"regexp"
	"slices"
)

// plan is an executable rule body with its head projection.
type plan struct {
	steps  []step
	head   []expr
	nslots int
}

// compiler turns scheduled literals into steps, assigning variable slots and
// checking types as bindings flow through the body.
type compiler struct {
	decls map[string]Decl
	stmt  fmt.Stringer
	pos   Pos
	slots map[string]int
	types map[string]Type
}

func newCompiler(decls map[string]Decl, stmt fmt.Stringer, pos Pos) *compiler {
	return &compiler{
		decls: decls,
		stmt:  stmt,
		pos:   pos,
		slots: make(map[string]int),
		types: make(map[string]Type),
	}
}

func (c *compiler) errorf(format string, args ...any) error {
	return ruleErr(c.pos, c.stmt, format, args...)
}

func (c *compiler) slot(name string) int {
	if s, ok := c.slots[name]; ok {
		return s
	}
	s := len(c.slots)
	c.slots[name] = s
	return s
}

func (c *compiler) setType(name string, t Type, where fmt.Stringer) error {
	if prev, ok := c.types[name]; ok && prev != t {
		return c.errorf("variable %q used as %s and as %s in %s", name, prev, t, where)
	}
	c.types[name] = t
	return nil
}

func (c *compiler) decl(a Atom) (Decl, error) {
	d, ok := c.decls[a.Pred]
	if !ok {
		return Decl{}, c.errorf("undeclared relation %q", a.Pred)
	}
	if len(a.Args) != d.Arity() {
		return Decl{}, c.errorf("relation %q expects %d arguments, got %d in %s", a.Pred, d.Arity(), len(a.Args), a)
	}
	return d, nil
}

func (c *compiler) items(items []item, bound map[string]bool) ([]step, error) {
	steps := make([]step, 0, len(items))
	for _, it := range items {
		st, err := c.item(it, bound)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (c *compiler) item(it item, bound map[string]bool) (step, error) {
	switch it.mode {
	case modeScan:
		return c.scan(it.lit.(Atom), it.delta, it.capture, bound)
	case modeNegate:
		return c.negate(it.lit.(Negation).Atom)
	case modeFilter:
		cmp := it.lit.(Comparison)
		l, lt, err := c.expr(cmp.L)
		if err != nil {
			return nil, err
		}
		r, rt, err := c.expr(cmp.R)
		if err != nil {
			return nil, err
		}
		if lt != rt {
			return nil, c.errorf("cannot compare %s with %s in %s", lt, rt, cmp)
		}
		return &filterStep{op: cmp.Op, l: l, r: r}, nil
	case modeAssign:
		cmp := it.lit.(Comparison)
		target, from := cmp.R, cmp.L
		if it.assignLeft {
			target, from = cmp.L, cmp.R
		}
		x, t, err := c.expr(from)
		if err != nil {
			return nil, err
		}
		name := target.(Var).Name
		if err := c.setType(name, t, cmp); err != nil {
			return nil, err
		}
		bound[name] = true
		return &assignStep{slot: c.slot(name), x: x}, nil
	case modeBuiltin:
		return c.builtin(it.lit.(Builtin))
	case modeAggregate:
		return c.aggregate(it, bound)
	}
	return nil, c.errorf("internal: unknown schedule mode %d", it.mode)
}

func (c *compiler) scan(a Atom, delta bool, capture int, bound map[string]bool) (step, error) {
	d, err := c.decl(a)
	if err != nil {
		return nil, err
	}
	st := &scanStep{rel: a.Pred, delta: delta, capture: capture}
	fresh := make(map[string]bool)
	for col, t := range a.Args {
		want := d.Columns[col].Type
		switch t := t.(type) {
		case Wildcard:
		case Var:
			if err := c.setType(t.Name, want, a); err != nil {
				return nil, err
			}
			s := c.slot(t.Name)
			switch {
			case fresh[t.Name]:
				st.checks = append(st.checks, colSlot{col, s})
			case bound[t.Name]:
				st.keyCols = append(st.keyCols, col)
				st.keyArgs = append(st.keyArgs, slotRef(s))
			default:
				fresh[t.Name] = true
				st.binds = append(st.binds, colSlot{col, s})
			}
		default:
			x, typ, err := c.expr(t)
			if err != nil {
				return nil, err
			}
			if typ != want {
				return nil, c.errorf("argument %d of %s: expected %s, got %s", col+1, a, want, typ)
			}
			st.keyCols = append(st.keyCols, col)
			st.keyArgs = append(st.keyArgs, x)
		}
	}
	for v := range fresh {
		bound[v] = true
	}
	return st, nil
}

func (c *compiler) negate(a Atom) (step, error) {
	d, err := c.decl(a)
	if err != nil {
		return nil, err
	}
	st := &negStep{rel: a.Pred}
	for col, t := range a.Args {
		if _, ok := t.(Wildcard); ok {
			continue
		}
		x, typ, err := c.expr(t)
		if err != nil {
			return nil, err
		}
		if want := d.Columns[col].Type; typ != want {
			return nil, c.errorf("argument %d of !%s: expected %s, got %s", col+1, a, want, typ)
		}
		st.keyCols = append(st.keyCols, col)
		st.keyArgs = append(st.keyArgs, x)
	}
	st.total = len(st.keyCols) == d.Arity()
	return st, nil
}

func (c *compiler) builtin(b Builtin) (step, error) {
	st := &builtinStep{name: b.Name}
	for _, t := range b.Args {
		x, typ, err := c.expr(t)
		if err != nil {
			return nil, err
		}
		if typ != TypeSymbol {
			return nil, c.errorf("%s expects symbol arguments, got %s in %s", b.Name, typ, b)
		}
		st.args = append(st.args, x)
	}
	if b.Name == "match" {
		if k, ok := b.Args[0].(Const); ok {
			re, err := regexp.Compile(anchor(k.Value.Str()))
			if err != nil {
				return nil, c.errorf("invalid regular expression %s: %v", k.Value, err)
			}
			st.re = re
		}
	}
	return st, nil
}

func (c *compiler) aggregate(it item, bound map[string]bool) (step, error) {
	agg := it.lit.(Aggregate)
	inner := cloneSet(bound)
	body, err := c.items(it.inner, inner)
	if err != nil {
		return nil, err
	}
	st := &aggStep{fn: agg.Fn, body: body}

	var locals []string
	for v := range inner {
		if !bound[v] {
			locals = append(locals, v)
		}
	}
	slices.Sort(locals)
	for _, v := range locals {
		st.local = append(st.local, c.slot(v))
	}
	for _, v := range it.corr {
		st.outer = append(st.outer, c.slot(v))
	}

	st.typ = TypeNumber
	if agg.Target != nil {
		x, typ, err := c.expr(agg.Target)
		if err != nil {
			return nil, err
		}
		switch {
		case agg.Fn == "sum" && typ != TypeNumber && typ != TypeFloat:
			return nil, c.errorf("sum over %s values in %s", typ, agg)
		case typ == TypeBool:
			return nil, c.errorf("%s over bool values in %s", agg.Fn, agg)
		}
		st.target = x
		st.typ = typ
	}

	st.slot = c.slot(agg.Result)
	if bound[agg.Result] {
		if c.types[agg.Result] != st.typ {
			return nil, c.errorf("aggregate result %q is %s but %s yields %s", agg.Result, c.types[agg.Result], agg.Fn, st.typ)
		}
		st.check = true
		return st, nil
	}
	if err := c.setType(agg.Result, st.typ, agg); err != nil {
		return nil, err
	}
	bound[agg.Result] = true
	return st, nil
}

// expr compiles a term whose variables are all bound.
func (c *compiler) expr(t Term) (expr, Type, error) {
	switch t := t.(type) {
	case Const:
		return constant{t.Value}, t.Value.Type(), nil
	case Var:
		typ, ok := c.types[t.Name]
		if !ok {
			return nil, 0, c.errorf("ungrounded variable %q", t.Name)
		}
		return slotRef(c.slot(t.Name)), typ, nil
	case Wildcard:
		return nil, 0, c.errorf("wildcard not allowed in expressions")
	case Neg:
		x, typ, err := c.expr(t.X)
		if err != nil {
			return nil, 0, err
		}
		if typ != TypeNumber && typ != TypeFloat {
			return nil, 0, c.errorf("cannot negate %s in %s", typ, t)
		}
		return negate{x: x}, typ, nil
	case BinOp:
		l, lt, err := c.expr(t.L)
		if err != nil {
			return nil, 0, err
		}
		r, rt, err := c.expr(t.R)
		if err != nil {
			return nil, 0, err
		}
		switch {
		case lt != rt:
			return nil, 0, c.errorf("operands of %s have types %s and %s", t, lt, rt)
		case lt != TypeNumber && lt != TypeFloat:
			return nil, 0, c.errorf("arithmetic on %s in %s", lt, t)
		case t.Op == "%" && lt != TypeNumber:
			return nil, 0, c.errorf("%% requires number operands in %s", t)
		}
		return arith{op: t.Op, l: l, r: r}, lt, nil
	case Call:
		return c.call(t)
	}
	return nil, 0, c.errorf("internal: unexpected term %T", t)
}

func (c *compiler) call(t Call) (expr, Type, error) {
	args := make([]expr, len(t.Args))
	types := make([]Type, len(t.Args))
	for i, a := range t.Args {
		x, typ, err := c.expr(a)
		if err != nil {
			return nil, 0, err
		}
		args[i], types[i] = x, typ
	}
	want := func(i int, allowed ...Type) error {
		if !slices.Contains(allowed, types[i]) {
			return c.errorf("argument %d of %s has type %s", i+1, t, types[i])
		}
		return nil
	}
	var out Type
	switch t.Fn {
	case "cat":
		for i := range args {
			if err := want(i, TypeSymbol); err != nil {
				return nil, 0, err
			}
		}
		out = TypeSymbol
	case "to_string":
		out = TypeSymbol
	case "to_number":
		if err := want(0, TypeNumber, TypeSymbol, TypeFloat); err != nil {
			return nil, 0, err
		}
		out = TypeNumber
	case "to_float":
		if err := want(0, TypeNumber, TypeSymbol, TypeFloat); err != nil {
			return nil, 0, err
		}
		out = TypeFloat
	case "strlen":
		if err := want(0, TypeSymbol); err != nil {
			return nil, 0, err
		}
		out = TypeNumber
	case "substr":
		if err := want(0, TypeSymbol); err != nil {
			return nil, 0, err
		}
		for i := 1; i < 3; i++ {
			if err := want(i, TypeNumber); err != nil {
				return nil, 0, err
			}
		}
		out = TypeSymbol
	default:
		return nil, 0, c.errorf("unknown functor %q", t.Fn)
	}
	return call{fn: t.Fn, args: args}, out, nil
}

// headExprs compiles head arguments against the head relation's schema.
func (c *compiler) headExprs(head Atom, bound map[string]bool) ([]expr, error) {
	d, err := c.decl(head)
	if err != nil {
		return nil, err
	}
	out := make([]expr, len(head.Args))
	for i, t := range head.Args {
		if _, ok := t.(Wildcard); ok {
			return nil, c.errorf("wildcard in head %s", head)
		}
		if v := firstUnboundTerm(t, bound); v != "" {
			return nil, c.errorf("ungrounded variable %q in head %s", v, head)
		}
		x, typ, err := c.expr(t)
		if err != nil {
			return nil, err
		}
		if want := d.Columns[i].Type; typ != want {
			return nil, c.errorf("argument %d of %s: expected %s, got %s", i+1, head, want, typ)
		}
		out[i] = x
	}
	return out, nil
}

func firstUnboundTerm(t Term, bound map[string]bool) string {
	var first string
	termVars(t, func(v string) {
		if first == "" && !bound[v] {
			first = v
		}
	})
	return first
}

func anchor(pattern string) string { return "^(?:" + pattern + ")$" }
