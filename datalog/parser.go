package datalog

import (
	"fmt"
	"slices"
	"strconv"
)

// Functors usable inside terms.
var functors = map[string]int{
	"cat":       -1,
	"to_string": 1,
	"to_number": 1,
	"to_float":  1,
	"strlen":    1,
	"substr":    3,
}

// Built-in predicates usable as body literals.
var builtins = map[string]int{
	"contains": 2,
	"match":    2,
}

var aggregateFuncs = []string{"count", "sum", "min", "max"}

var reserved = []string{"count", "sum", "min", "max", "forall", "contains", "match", "true", "false"}

var comparisonOps = []string{"=", "!=", "<", "<=", ">", ">="}

// Parse parses rule text. Syntax errors are reported as *RuleSetError with
// the position of the offending token.
func Parse(name, src string) (*Program, error) {
	toks, err := lex(name, src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	prog := &Program{Name: name}
	for p.peek().kind != tokEOF {
		if err := p.statement(prog); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) accept(s string) bool {
	if p.isPunct(s) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(s string) (token, error) {
	t := p.peek()
	if t.kind != tokPunct || t.text != s {
		return t, p.errorf(t, "expected `%s`, found %s", s, t)
	}
	p.i++
	return t, nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &RuleSetError{Pos: t.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) ident() (token, error) {
	t := p.next()
	if t.kind != tokIdent {
		return t, p.errorf(t, "expected identifier, found %s", t)
	}
	return t, nil
}

func (p *parser) statement(prog *Program) error {
	t := p.peek()
	if t.kind == tokDirective {
		p.next()
		switch t.text {
		case ".decl":
			d, err := p.decl(t.pos)
			if err != nil {
				return err
			}
			prog.Decls = append(prog.Decls, d)
			return nil
		case ".input", ".output", ".printsize":
			// I/O directives are meaningless here; skip the relation name and
			// any parameter list.
			if _, err := p.ident(); err != nil {
				return err
			}
			if p.accept("(") {
				for !p.accept(")") {
					if p.next().kind == tokEOF {
						return p.errorf(t, "unterminated %s directive", t.text)
					}
				}
			}
			return nil
		default:
			return p.errorf(t, "unknown directive %s", t.text)
		}
	}

	head, err := p.atom()
	if err != nil {
		return err
	}
	switch {
	case p.accept("."):
		prog.Rules = append(prog.Rules, Rule{Head: head, Pos: head.Pos})
	case p.accept(":-"):
		body, err := p.body()
		if err != nil {
			return err
		}
		if _, err := p.expect("."); err != nil {
			return err
		}
		prog.Rules = append(prog.Rules, Rule{Head: head, Body: body, Pos: head.Pos})
	case p.accept("<="):
		dom, err := p.atom()
		if err != nil {
			return err
		}
		s := Subsumption{Dominated: head, Dominating: dom, Pos: head.Pos}
		if p.accept(":-") {
			if s.Body, err = p.body(); err != nil {
				return err
			}
		}
		if _, err := p.expect("."); err != nil {
			return err
		}
		prog.Subsumptions = append(prog.Subsumptions, s)
	default:
		t := p.peek()
		return p.errorf(t, "expected `.`, `:-` or `<=` after %s, found %s", head, t)
	}
	return nil
}

func (p *parser) decl(pos Pos) (Decl, error) {
	name, err := p.ident()
	if err != nil {
		return Decl{}, err
	}
	d := Decl{Name: name.text, Pos: pos}
	if _, err := p.expect("("); err != nil {
		return Decl{}, err
	}
	for !p.accept(")") {
		if len(d.Columns) > 0 {
			if _, err := p.expect(","); err != nil {
				return Decl{}, err
			}
		}
		col, err := p.ident()
		if err != nil {
			return Decl{}, err
		}
		if _, err := p.expect(":"); err != nil {
			return Decl{}, err
		}
		tn, err := p.ident()
		if err != nil {
			return Decl{}, err
		}
		typ, ok := ParseType(tn.text)
		if !ok {
			return Decl{}, p.errorf(tn, "unknown type %q", tn.text)
		}
		d.Columns = append(d.Columns, Column{Name: col.text, Type: typ})
	}
	return d, nil
}

func (p *parser) atom() (Atom, error) {
	name, err := p.ident()
	if err != nil {
		return Atom{}, err
	}
	if slices.Contains(reserved, name.text) {
		return Atom{}, p.errorf(name, "reserved word %q cannot name a relation", name.text)
	}
	args, err := p.args()
	if err != nil {
		return Atom{}, err
	}
	return Atom{Pred: name.text, Args: args, Pos: name.pos}, nil
}

func (p *parser) args() ([]Term, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Term
	for !p.accept(")") {
		if len(args) > 0 {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return args, nil
}

func (p *parser) body() ([]Literal, error) {
	var lits []Literal
	for {
		l, err := p.literal()
		if err != nil {
			return nil, err
		}
		lits = append(lits, l)
		if !p.accept(",") {
			return lits, nil
		}
	}
}

func (p *parser) literal() (Literal, error) {
	t := p.peek()
	if p.accept("!") {
		a, err := p.atom()
		if err != nil {
			return nil, err
		}
		return Negation{Atom: a}, nil
	}
	if t.kind == tokIdent {
		next := p.peekAt(1)
		isCall := next.kind == tokPunct && next.text == "("
		_, isFunctor := functors[t.text]
		switch {
		case t.text == "forall":
			return p.forall()
		case isCall && builtins[t.text] > 0:
			p.next()
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			if len(args) != builtins[t.text] {
				return nil, p.errorf(t, "%s expects %d arguments, got %d", t.text, builtins[t.text], len(args))
			}
			return Builtin{Name: t.text, Args: args, Pos: t.pos}, nil
		case isCall && !isFunctor:
			return p.atom()
		}
	}

	left, err := p.term()
	if err != nil {
		return nil, err
	}
	op := p.next()
	if op.kind != tokPunct || !slices.Contains(comparisonOps, op.text) {
		return nil, p.errorf(op, "expected comparison after %s, found %s", left, op)
	}
	if v, ok := left.(Var); ok && op.text == "=" {
		if fn := p.peek(); fn.kind == tokIdent && slices.Contains(aggregateFuncs, fn.text) {
			return p.aggregate(v.Name, t.pos)
		}
	}
	right, err := p.term()
	if err != nil {
		return nil, err
	}
	return Comparison{Op: op.text, L: left, R: right, Pos: t.pos}, nil
}

func (p *parser) aggregate(result string, pos Pos) (Literal, error) {
	fn := p.next()
	agg := Aggregate{Result: result, Fn: fn.text, Pos: pos}
	if !p.isPunct(":") {
		target, err := p.term()
		if err != nil {
			return nil, err
		}
		agg.Target = target
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	switch {
	case agg.Fn == "count" && agg.Target != nil:
		return nil, p.errorf(fn, "count takes no target expression")
	case agg.Fn != "count" && agg.Target == nil:
		return nil, p.errorf(fn, "%s requires a target expression", agg.Fn)
	}
	if p.accept("{") {
		body, err := p.body()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("}"); err != nil {
			return nil, err
		}
		agg.Body = body
		return agg, nil
	}
	a, err := p.atom()
	if err != nil {
		return nil, err
	}
	agg.Body = []Literal{a}
	return agg, nil
}

func (p *parser) forall() (Literal, error) {
	kw := p.next()
	f := Forall{Pos: kw.pos}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	for {
		a, err := p.atom()
		if err != nil {
			return nil, err
		}
		f.Range = append(f.Range, a)
		if p.accept("=>") {
			break
		}
		if _, err := p.expect(","); err != nil {
			return nil, err
		}
	}
	cond, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	f.Cond = cond
	return f, nil
}

func (p *parser) term() (Term, error) {
	left, err := p.product()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.next().text
		right, err := p.product()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) product() (Term, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.next().text
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = BinOp{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) unary() (Term, error) {
	if !p.accept("-") {
		return p.primary()
	}
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	if c, ok := x.(Const); ok {
		switch c.Value.Type() {
		case TypeNumber:
			return Const{Value: Number(-c.Value.Int())}, nil
		case TypeFloat:
			return Const{Value: Float(-c.Value.Float64())}, nil
		}
	}
	return Neg{X: x}, nil
}

func (p *parser) primary() (Term, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "number literal %s out of range", t.text)
		}
		return Const{Value: Number(n)}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid float literal %s", t.text)
		}
		return Const{Value: Float(f)}, nil
	case tokString:
		return Const{Value: Symbol(t.text)}, nil
	case tokPunct:
		if t.text == "(" {
			x, err := p.term()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	case tokIdent:
		switch t.text {
		case "_":
			return Wildcard{}, nil
		case "true":
			return Const{Value: Bool(true)}, nil
		case "false":
			return Const{Value: Bool(false)}, nil
		}
		if p.isPunct("(") {
			arity, ok := functors[t.text]
			if !ok {
				return nil, p.errorf(t, "unknown functor %q", t.text)
			}
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			if arity >= 0 && len(args) != arity {
				return nil, p.errorf(t, "%s expects %d arguments, got %d", t.text, arity, len(args))
			}
			if arity < 0 && len(args) < 2 {
				return nil, p.errorf(t, "%s expects at least 2 arguments", t.text)
			}
			return Call{Fn: t.text, Args: args}, nil
		}
		if slices.Contains(reserved, t.text) {
			return nil, p.errorf(t, "reserved word %q cannot be used as a variable", t.text)
		}
		return Var{Name: t.text}, nil
	}
	return nil, p.errorf(t, "expected term, found %s", t)
}
