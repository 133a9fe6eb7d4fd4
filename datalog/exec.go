package datalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// step is one instruction of a compiled body. The set is closed: scanStep,
// negStep, filterStep, assignStep, builtinStep and aggStep.
type step interface{ isStep() }

type colSlot struct{ col, slot int }

type scanStep struct {
	rel     string
	delta   bool
	keyCols []int
	keyArgs []expr
	binds   []colSlot
	checks  []colSlot
	capture int
}

type negStep struct {
	rel     string
	keyCols []int
	keyArgs []expr
	total   bool
}

type filterStep struct {
	op   string
	l, r expr
}

type assignStep struct {
	slot int
	x    expr
}

type builtinStep struct {
	name string
	args []expr
	re   *regexp.Regexp
}

type aggStep struct {
	fn     string
	typ    Type
	target expr
	body   []step
	local  []int
	outer  []int
	slot   int
	check  bool
}

func (*scanStep) isStep()    {}
func (*negStep) isStep()     {}
func (*filterStep) isStep()  {}
func (*assignStep) isStep()  {}
func (*builtinStep) isStep() {}
func (*aggStep) isStep()     {}

// expr evaluates to a value under a binding environment. A false result
// means the expression is undefined (division by zero, unparsable number)
// and the current binding is dropped.
type expr interface {
	eval(env []Value) (Value, bool)
}

type slotRef int

type constant struct{ v Value }

type negate struct{ x expr }

type arith struct {
	op   string
	l, r expr
}

type call struct {
	fn   string
	args []expr
}

func (s slotRef) eval(env []Value) (Value, bool) { return env[s], true }

func (c constant) eval([]Value) (Value, bool) { return c.v, true }

func (n negate) eval(env []Value) (Value, bool) {
	v, ok := n.x.eval(env)
	if !ok {
		return Value{}, false
	}
	if v.Type() == TypeFloat {
		return Float(-v.Float64()), true
	}
	return Number(-v.Int()), true
}

func (a arith) eval(env []Value) (Value, bool) {
	l, ok := a.l.eval(env)
	if !ok {
		return Value{}, false
	}
	r, ok := a.r.eval(env)
	if !ok {
		return Value{}, false
	}
	if l.Type() == TypeFloat {
		x, y := l.Float64(), r.Float64()
		switch a.op {
		case "+":
			return Float(x + y), true
		case "-":
			return Float(x - y), true
		case "*":
			return Float(x * y), true
		case "/":
			if y == 0 {
				return Value{}, false
			}
			return Float(x / y), true
		}
		return Value{}, false
	}
	x, y := l.Int(), r.Int()
	switch a.op {
	case "+":
		return Number(x + y), true
	case "-":
		return Number(x - y), true
	case "*":
		return Number(x * y), true
	case "/":
		if y == 0 {
			return Value{}, false
		}
		return Number(x / y), true
	case "%":
		if y == 0 {
			return Value{}, false
		}
		return Number(x % y), true
	}
	return Value{}, false
}

func (c call) eval(env []Value) (Value, bool) {
	vals := make([]Value, len(c.args))
	for i, a := range c.args {
		v, ok := a.eval(env)
		if !ok {
			return Value{}, false
		}
		vals[i] = v
	}
	switch c.fn {
	case "cat":
		var b strings.Builder
		for _, v := range vals {
			b.WriteString(v.Str())
		}
		return Symbol(b.String()), true
	case "to_string":
		if vals[0].Type() == TypeSymbol {
			return vals[0], true
		}
		return Symbol(vals[0].String()), true
	case "to_number":
		switch v := vals[0]; v.Type() {
		case TypeNumber:
			return v, true
		case TypeFloat:
			f := v.Float64()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Value{}, false
			}
			return Number(int64(f)), true
		default:
			n, err := strconv.ParseInt(strings.TrimSpace(v.Str()), 10, 64)
			if err != nil {
				return Value{}, false
			}
			return Number(n), true
		}
	case "to_float":
		switch v := vals[0]; v.Type() {
		case TypeFloat:
			return v, true
		case TypeNumber:
			return Float(float64(v.Int())), true
		default:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
			if err != nil {
				return Value{}, false
			}
			return Float(f), true
		}
	case "strlen":
		return Number(int64(utf8.RuneCountInString(vals[0].Str()))), true
	case "substr":
		runes := []rune(vals[0].Str())
		start, n := vals[1].Int(), vals[2].Int()
		if start < 0 || n < 0 || start+n > int64(len(runes)) {
			return Value{}, false
		}
		return Symbol(string(runes[start : start+n])), true
	}
	return Value{}, false
}

var regexCache sync.Map

func compileCached(pattern string) *regexp.Regexp {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(anchor(pattern))
	if err != nil {
		re = nil
	}
	regexCache.Store(pattern, re)
	return re
}

func compare(op string, l, r Value) bool {
	c := Compare(l, r)
	switch op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

type aggResult struct {
	v  Value
	ok bool
}

// frame is the per-worker state for running compiled bodies.
type frame struct {
	full  map[string]*relation
	delta map[string]*relation
	env   []Value
	caps  [2]Tuple
	memo  map[*aggStep]map[string]aggResult
}

func newFrame(full, delta map[string]*relation, nslots int) *frame {
	return &frame{
		full:  full,
		delta: delta,
		env:   make([]Value, nslots),
	}
}

func (f *frame) keyOf(args []expr) (string, bool) {
	buf := make([]byte, 0, 16*len(args))
	for _, a := range args {
		v, ok := a.eval(f.env)
		if !ok {
			return "", false
		}
		buf = v.appendKey(buf)
	}
	return string(buf), true
}

// run executes steps from i onwards, calling emit for every complete binding.
func (f *frame) run(steps []step, i int, emit func() error) error {
	if i == len(steps) {
		return emit()
	}
	switch s := steps[i].(type) {
	case *scanStep:
		return f.scan(s, steps, i, emit)
	case *negStep:
		rel := f.full[s.rel]
		if rel == nil {
			return f.run(steps, i+1, emit)
		}
		key, ok := f.keyOf(s.keyArgs)
		if !ok {
			return nil
		}
		if s.total {
			if rel.containsKey(key) {
				return nil
			}
		} else if pos, all := rel.lookup(s.keyCols, key); (all && rel.len() > 0) || len(pos) > 0 {
			return nil
		}
		return f.run(steps, i+1, emit)
	case *filterStep:
		l, ok := s.l.eval(f.env)
		if !ok {
			return nil
		}
		r, ok := s.r.eval(f.env)
		if !ok || !compare(s.op, l, r) {
			return nil
		}
		return f.run(steps, i+1, emit)
	case *assignStep:
		v, ok := s.x.eval(f.env)
		if !ok {
			return nil
		}
		f.env[s.slot] = v
		return f.run(steps, i+1, emit)
	case *builtinStep:
		if !f.builtin(s) {
			return nil
		}
		return f.run(steps, i+1, emit)
	case *aggStep:
		res, err := f.aggregate(s)
		if err != nil || !res.ok {
			return err
		}
		if s.check {
			if Compare(f.env[s.slot], res.v) != 0 {
				return nil
			}
		} else {
			f.env[s.slot] = res.v
		}
		return f.run(steps, i+1, emit)
	}
	return nil
}

func (f *frame) scan(s *scanStep, steps []step, i int, emit func() error) error {
	rel := f.full[s.rel]
	if s.delta {
		rel = f.delta[s.rel]
	}
	if rel == nil {
		return nil
	}
	var pos []int
	all := true
	if len(s.keyCols) > 0 {
		key, ok := f.keyOf(s.keyArgs)
		if !ok {
			return nil
		}
		pos, all = rel.lookup(s.keyCols, key)
	}
	visit := func(t Tuple) error {
		for _, b := range s.binds {
			f.env[b.slot] = t[b.col]
		}
		for _, c := range s.checks {
			if Compare(t[c.col], f.env[c.slot]) != 0 {
				return nil
			}
		}
		if s.capture >= 0 {
			f.caps[s.capture] = t
		}
		return f.run(steps, i+1, emit)
	}
	if all {
		for _, t := range rel.tuples {
			if err := visit(t); err != nil {
				return err
			}
		}
		return nil
	}
	for _, p := range pos {
		if err := visit(rel.tuples[p]); err != nil {
			return err
		}
	}
	return nil
}

func (f *frame) builtin(s *builtinStep) bool {
	a, ok := s.args[0].eval(f.env)
	if !ok {
		return false
	}
	b, ok := s.args[1].eval(f.env)
	if !ok {
		return false
	}
	switch s.name {
	case "contains":
		return strings.Contains(b.Str(), a.Str())
	case "match":
		re := s.re
		if re == nil {
			re = compileCached(a.Str())
		}
		return re != nil && re.MatchString(b.Str())
	}
	return false
}

func (f *frame) aggregate(s *aggStep) (aggResult, error) {
	okey := ""
	if len(s.outer) > 0 {
		buf := make([]byte, 0, 16*len(s.outer))
		for _, sl := range s.outer {
			buf = f.env[sl].appendKey(buf)
		}
		okey = string(buf)
	}
	if cached, ok := f.memo[s][okey]; ok {
		return cached, nil
	}

	seen := make(map[string]struct{})
	var (
		count int64
		isum  int64
		fsum  float64
		best  Value
		have  bool
	)
	err := f.run(s.body, 0, func() error {
		buf := make([]byte, 0, 16*len(s.local))
		for _, sl := range s.local {
			buf = f.env[sl].appendKey(buf)
		}
		k := string(buf)
		if _, dup := seen[k]; dup {
			return nil
		}
		seen[k] = struct{}{}
		count++
		if s.target == nil {
			return nil
		}
		v, ok := s.target.eval(f.env)
		if !ok {
			return nil
		}
		switch s.fn {
		case "sum":
			if v.Type() == TypeFloat {
				fsum += v.Float64()
			} else {
				isum += v.Int()
			}
		case "min":
			if !have || Compare(v, best) < 0 {
				best = v
			}
		case "max":
			if !have || Compare(v, best) > 0 {
				best = v
			}
		}
		have = true
		return nil
	})
	if err != nil {
		return aggResult{}, err
	}

	var res aggResult
	switch s.fn {
	case "count":
		res = aggResult{Number(count), true}
	case "sum":
		if s.typ == TypeFloat {
			res = aggResult{Float(fsum), true}
		} else {
			res = aggResult{Number(isum), true}
		}
	default:
		res = aggResult{best, have}
	}

	if f.memo == nil {
		f.memo = make(map[*aggStep]map[string]aggResult)
	}
	if f.memo[s] == nil {
		f.memo[s] = make(map[string]aggResult)
	}
	f.memo[s][okey] = res
	return res, nil
}
