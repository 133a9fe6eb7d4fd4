package datalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// relation is a set of tuples with lazily built hash indexes over column
// subsets. Reads (lookup, contains) may run concurrently; writes must not
// overlap with reads.
type relation struct {
	decl   Decl
	tuples []Tuple
	set    map[string]struct{}

	// dead holds subsumed tuples; inserting one again is a no-op.
	dead map[string]struct{}

	mu      sync.Mutex
	indexes map[string]*index
}

type index struct {
	cols    []int
	buckets map[string][]int
}

func newRelation(decl Decl) *relation {
	return &relation{
		decl: decl,
		set:  make(map[string]struct{}),
	}
}

func (r *relation) len() int { return len(r.tuples) }

func (r *relation) contains(t Tuple) bool {
	_, ok := r.set[t.Key()]
	return ok
}

func (r *relation) containsKey(key string) bool {
	_, ok := r.set[key]
	return ok
}

// insert adds t and reports whether it was new.
func (r *relation) insert(t Tuple) bool {
	key := t.Key()
	if _, ok := r.set[key]; ok {
		return false
	}
	if _, ok := r.dead[key]; ok {
		return false
	}
	r.set[key] = struct{}{}
	pos := len(r.tuples)
	r.tuples = append(r.tuples, t)
	for _, idx := range r.indexes {
		k := projectKey(t, idx.cols)
		idx.buckets[k] = append(idx.buckets[k], pos)
	}
	return true
}

// kill removes tuples by key and tombstones them.
func (r *relation) kill(keys map[string]struct{}) {
	if len(keys) == 0 {
		return
	}
	if r.dead == nil {
		r.dead = make(map[string]struct{}, len(keys))
	}
	kept := r.tuples[:0:0]
	for _, t := range r.tuples {
		k := t.Key()
		if _, gone := keys[k]; gone {
			delete(r.set, k)
			r.dead[k] = struct{}{}
			continue
		}
		kept = append(kept, t)
	}
	r.tuples = kept
	r.indexes = nil
}

// lookup returns positions of tuples whose cols project to key. With no
// columns every position matches and nil is returned with all=true.
func (r *relation) lookup(cols []int, key string) (positions []int, all bool) {
	if len(cols) == 0 {
		return nil, true
	}
	sig := colsSignature(cols)

	r.mu.Lock()
	idx, ok := r.indexes[sig]
	if !ok {
		idx = &index{cols: cols, buckets: make(map[string][]int)}
		for pos, t := range r.tuples {
			k := projectKey(t, cols)
			idx.buckets[k] = append(idx.buckets[k], pos)
		}
		if r.indexes == nil {
			r.indexes = make(map[string]*index)
		}
		r.indexes[sig] = idx
	}
	r.mu.Unlock()

	return idx.buckets[key], false
}

func (r *relation) clone() *relation {
	c := newRelation(r.decl)
	c.tuples = slices.Clone(r.tuples)
	for k := range r.set {
		c.set[k] = struct{}{}
	}
	return c
}

func colsSignature(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// FactBase is a set-semantics store of typed relations. It is not safe for
// concurrent mutation.
type FactBase struct {
	decls map[string]Decl
	rels  map[string]*relation
}

// NewFactBase returns a fact base with the given relations declared.
func NewFactBase(decls ...Decl) (*FactBase, error) {
	fb := &FactBase{
		decls: make(map[string]Decl, len(decls)),
		rels:  make(map[string]*relation, len(decls)),
	}
	for _, d := range decls {
		if err := fb.Declare(d); err != nil {
			return nil, err
		}
	}
	return fb, nil
}

// Declare adds a relation. Redeclaring with an identical schema is a no-op.
func (fb *FactBase) Declare(d Decl) error {
	if d.Name == "" {
		return &SchemaError{Relation: d.Name, Reason: "empty relation name"}
	}
	for _, c := range d.Columns {
		if c.Type < TypeNumber || c.Type > TypeBool {
			return &SchemaError{Relation: d.Name, Reason: fmt.Sprintf("column %q has no valid type", c.Name)}
		}
	}
	if prev, ok := fb.decls[d.Name]; ok {
		if !sameColumns(prev, d) {
			return &SchemaError{Relation: d.Name, Reason: "conflicting declarations " + prev.String() + " and " + d.String()}
		}
		return nil
	}
	fb.decls[d.Name] = d
	fb.rels[d.Name] = newRelation(d)
	return nil
}

func sameColumns(a, b Decl) bool {
	return slices.EqualFunc(a.Columns, b.Columns, func(x, y Column) bool { return x.Type == y.Type })
}

// Insert adds one fact, type-checking it against the relation's schema.
// It reports whether the fact was new.
func (fb *FactBase) Insert(name string, t Tuple) (bool, error) {
	rel, ok := fb.rels[name]
	if !ok {
		return false, &SchemaError{Relation: name, Reason: "undeclared relation"}
	}
	if err := checkTuple(rel.decl, t); err != nil {
		return false, err
	}
	return rel.insert(slices.Clone(t)), nil
}

// MustInsert is Insert for statically known facts; it panics on schema errors.
func (fb *FactBase) MustInsert(name string, vals ...Value) {
	if _, err := fb.Insert(name, vals); err != nil {
		panic(err)
	}
}

func checkTuple(d Decl, t Tuple) error {
	if len(t) != len(d.Columns) {
		return &SchemaError{Relation: d.Name, Reason: fmt.Sprintf("expected %d values, got %d", len(d.Columns), len(t))}
	}
	for i, c := range d.Columns {
		if t[i].Type() != c.Type {
			return &SchemaError{
				Relation: d.Name,
				Reason:   fmt.Sprintf("column %q expects %s, got %s %s", c.Name, c.Type, t[i].Type(), t[i]),
			}
		}
	}
	return nil
}

// Decl returns the schema of a relation.
func (fb *FactBase) Decl(name string) (Decl, bool) {
	d, ok := fb.decls[name]
	return d, ok
}

// Relations returns the declared relation names in sorted order.
func (fb *FactBase) Relations() []string {
	names := make([]string, 0, len(fb.decls))
	for n := range fb.decls {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Tuples returns the facts of a relation in sorted order.
func (fb *FactBase) Tuples(name string) []Tuple {
	rel, ok := fb.rels[name]
	if !ok {
		return nil
	}
	out := slices.Clone(rel.tuples)
	slices.SortFunc(out, CompareTuples)
	return out
}

// Contains reports whether the fact is present.
func (fb *FactBase) Contains(name string, vals ...Value) bool {
	rel, ok := fb.rels[name]
	return ok && rel.contains(vals)
}

// Len returns the number of facts in a relation.
func (fb *FactBase) Len(name string) int {
	if rel, ok := fb.rels[name]; ok {
		return rel.len()
	}
	return 0
}

// Size returns the total number of facts.
func (fb *FactBase) Size() int {
	n := 0
	for _, rel := range fb.rels {
		n += rel.len()
	}
	return n
}

// Clone returns an independent copy.
func (fb *FactBase) Clone() *FactBase {
	c := &FactBase{
		decls: make(map[string]Decl, len(fb.decls)),
		rels:  make(map[string]*relation, len(fb.rels)),
	}
	for n, d := range fb.decls {
		c.decls[n] = d
		c.rels[n] = fb.rels[n].clone()
	}
	return c
}

// Equal reports whether two fact bases hold the same relations and facts.
func (fb *FactBase) Equal(other *FactBase) bool {
	if len(fb.rels) != len(other.rels) {
		return false
	}
	for n, rel := range fb.rels {
		o, ok := other.rels[n]
		if !ok || o.len() != rel.len() {
			return false
		}
		for k := range rel.set {
			if !o.containsKey(k) {
				return false
			}
		}
	}
	return true
}

// String renders every fact in rule syntax, sorted, one per line.
func (fb *FactBase) String() string {
	var b strings.Builder
	for _, n := range fb.Relations() {
		for _, t := range fb.Tuples(n) {
			b.WriteString(n)
			b.WriteString(t.String())
			b.WriteString(".\n")
		}
	}
	return b.String()
}
