package datalog

import (
	"fmt"
	"slices"
	"strings"
)

// RuleSet is an analysed, stratified program ready for evaluation. It is
// immutable and safe for concurrent use.
type RuleSet struct {
	decls map[string]Decl
	kinds map[string]relKind
	order []string
	rules []*compiledRule
	subs  []*compiledSub

	level  map[string]int
	strata []*stratum
}

// stratum groups the derived relations that reach their fixed point together.
type stratum struct {
	index     int
	relations []string
	groups    []*group
	subs      []*compiledSub
}

// group holds the rules deriving one relation; groups of a stratum run on
// separate workers.
type group struct {
	rel   string
	rules []*compiledRule
}

// stratify builds the dependency graph over derived relations, rejects
// negation or aggregation inside a cycle, and assigns every derived relation
// a level: the longest chain of strict edges below it. A relation read from
// outside its component is only seen once converged when it carries
// subsumption clauses, so such an edge counts as strict.
func (rs *RuleSet) stratify() error {
	derived := make([]string, 0, len(rs.order))
	for _, n := range rs.order {
		if rs.kinds[n] != kindExtensional {
			derived = append(derived, n)
		}
	}

	type outEdge struct {
		to     string
		strict bool
		pos    Pos
		stmt   fmt.Stringer
	}
	adj := make(map[string][]outEdge)
	addEdges := func(edges []edge, pos Pos, stmt fmt.Stringer) {
		for _, e := range edges {
			if rs.kinds[e.to] == kindExtensional {
				continue
			}
			adj[e.from] = append(adj[e.from], outEdge{to: e.to, strict: e.strict, pos: pos, stmt: stmt})
		}
	}
	for _, r := range rs.rules {
		addEdges(r.edges, r.src.Pos, r.src)
	}
	for _, s := range rs.subs {
		addEdges(s.edges, s.src.Pos, s.src)
	}

	// Tarjan's algorithm emits components after everything they reach, so
	// dependencies come first.
	var (
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		comps   [][]string
		compOf  = make(map[string]int)
		counter int
	)
	var connect func(v string)
	connect = func(v string) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		for _, e := range adj[v] {
			if _, seen := index[e.to]; !seen {
				connect(e.to)
				low[v] = min(low[v], low[e.to])
			} else if onStack[e.to] {
				low[v] = min(low[v], index[e.to])
			}
		}
		if low[v] == index[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				compOf[w] = len(comps)
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}
	for _, n := range derived {
		if _, seen := index[n]; !seen {
			connect(n)
		}
	}

	subsumed := make(map[string]bool, len(rs.subs))
	for _, s := range rs.subs {
		subsumed[s.src.Dominated.Pred] = true
	}

	compLevel := make([]int, len(comps))
	for ci, comp := range comps {
		lv := 0
		for _, v := range comp {
			for _, e := range adj[v] {
				if compOf[e.to] == ci {
					if e.strict {
						members := slices.Clone(comp)
						slices.Sort(members)
						return ruleErr(e.pos, e.stmt,
							"relations {%s} are not stratifiable: %q depends on %q through negation or aggregation inside a recursive cycle",
							strings.Join(members, ", "), v, e.to)
					}
					continue
				}
				dep := compLevel[compOf[e.to]]
				if e.strict || subsumed[e.to] {
					dep++
				}
				lv = max(lv, dep)
			}
		}
		compLevel[ci] = lv
	}

	rs.level = make(map[string]int, len(derived))
	maxLevel := -1
	for _, n := range derived {
		lv := compLevel[compOf[n]]
		rs.level[n] = lv
		maxLevel = max(maxLevel, lv)
	}

	rs.strata = make([]*stratum, maxLevel+1)
	for i := range rs.strata {
		rs.strata[i] = &stratum{index: i}
	}
	groups := make(map[string]*group)
	for _, n := range derived {
		st := rs.strata[rs.level[n]]
		st.relations = append(st.relations, n)
		g := &group{rel: n}
		groups[n] = g
		st.groups = append(st.groups, g)
	}
	for _, r := range rs.rules {
		g := groups[r.src.Head.Pred]
		g.rules = append(g.rules, r)
	}
	for _, s := range rs.subs {
		st := rs.strata[rs.level[s.src.Dominated.Pred]]
		st.subs = append(st.subs, s)
	}
	for _, st := range rs.strata {
		slices.Sort(st.relations)
		st.groups = slices.DeleteFunc(st.groups, func(g *group) bool { return len(g.rules) == 0 })
	}
	return nil
}

// Decls returns every declared relation, extensional and derived, in
// declaration order. Auxiliary relations introduced by rewriting are
// included.
func (rs *RuleSet) Decls() []Decl {
	out := make([]Decl, 0, len(rs.order))
	for _, n := range rs.order {
		out = append(out, rs.decls[n])
	}
	return out
}

// Extensional reports whether name is a relation supplied by the fact base.
func (rs *RuleSet) Extensional(name string) bool {
	return rs.kinds[name] == kindExtensional
}

// Strata returns the derived relations of each stratum in evaluation order.
func (rs *RuleSet) Strata() [][]string {
	out := make([][]string, len(rs.strata))
	for i, st := range rs.strata {
		out[i] = slices.Clone(st.relations)
	}
	return out
}

// HeadConstants returns the distinct constants appearing at column col in
// the heads of rules deriving rel, sorted.
func (rs *RuleSet) HeadConstants(rel string, col int) []Value {
	var out []Value
	for _, r := range rs.rules {
		if r.src.Head.Pred != rel || col >= len(r.src.Head.Args) {
			continue
		}
		c, ok := r.src.Head.Args[col].(Const)
		if !ok {
			continue
		}
		if !slices.ContainsFunc(out, func(v Value) bool { return Compare(v, c.Value) == 0 }) {
			out = append(out, c.Value)
		}
	}
	slices.SortFunc(out, Compare)
	return out
}
