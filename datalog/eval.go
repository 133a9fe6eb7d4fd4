package datalog

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

type evaluator struct {
	maxIterations int
	workers       int
	logger        *slog.Logger
}

// Evaluate computes the least fixed point of the rule set over fb and returns
// a new fact base holding the input facts plus every derived fact. fb is not
// modified.
//
// Strata run in order. Within a stratum the first round applies every rule
// to the full relations; later rounds only re-run rules that read a relation
// of the same stratum, binding that atom to the facts derived in the
// previous round. Relations of one stratum are derived on parallel workers
// with a barrier after each round.
//
// fb may already contain derived facts, such as the output of an earlier
// evaluation; they seed the fixed point.
func (rs *RuleSet) Evaluate(ctx context.Context, fb *FactBase, opts ...Option) (*FactBase, error) {
	ev := defaultEvaluator()
	for _, opt := range opts {
		opt(ev)
	}

	work, err := rs.prepare(fb)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for _, st := range rs.strata {
		if err := ev.stratum(ctx, st, work.rels); err != nil {
			return nil, err
		}
	}
	ev.log().Debug("evaluation complete",
		slog.Int("strata", len(rs.strata)),
		slog.Int("facts", work.Size()),
		slog.Duration("elapsed", time.Since(start)))
	return work, nil
}

// prepare copies fb into a fact base declaring every relation of the rule
// set, checking that shared relations agree on their schema.
func (rs *RuleSet) prepare(fb *FactBase) (*FactBase, error) {
	work, err := NewFactBase(rs.Decls()...)
	if err != nil {
		return nil, err
	}
	if fb == nil {
		return work, nil
	}
	for _, name := range fb.Relations() {
		src := fb.rels[name]
		if err := work.Declare(src.decl); err != nil {
			return nil, err
		}
		dst := work.rels[name]
		for _, t := range src.tuples {
			dst.insert(t)
		}
	}
	return work, nil
}

func (ev *evaluator) stratum(ctx context.Context, st *stratum, full map[string]*relation) error {
	if len(st.groups) == 0 && len(st.subs) == 0 {
		return nil
	}
	recursive := false
	for _, g := range st.groups {
		for _, r := range g.rules {
			if len(r.variants) > 0 {
				recursive = true
			}
		}
	}

	delta, err := ev.round(ctx, st, full, nil)
	if err != nil {
		return err
	}
	rounds := 1
	for recursive && hasFacts(delta) {
		if rounds >= ev.maxIterations {
			return &NonterminationError{
				Stratum:    st.index,
				Relations:  slices.Clone(st.relations),
				Iterations: rounds,
			}
		}
		delta, err = ev.round(ctx, st, full, delta)
		if err != nil {
			return err
		}
		rounds++
	}

	ev.log().Debug("stratum converged",
		slog.Int("stratum", st.index),
		slog.Any("relations", st.relations),
		slog.Int("rounds", rounds))
	return nil
}

// round runs one evaluation round and merges its results into full. With a
// nil delta every rule runs against the full relations; otherwise only the
// delta variants run. It returns the facts that were new this round.
func (ev *evaluator) round(ctx context.Context, st *stratum, full, delta map[string]*relation) (map[string]*relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([][]Tuple, len(st.groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ev.workers)
	for i, grp := range st.groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := derive(grp, full, delta)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Barrier: all workers are done reading, merge sequentially.
	next := make(map[string]*relation)
	for i, grp := range st.groups {
		rel := full[grp.rel]
		for _, t := range results[i] {
			if !rel.insert(t) {
				continue
			}
			d, ok := next[grp.rel]
			if !ok {
				d = newRelation(rel.decl)
				next[grp.rel] = d
			}
			d.insert(t)
		}
	}

	for _, s := range st.subs {
		rel := s.src.Dominated.Pred
		killed := subsume(s, full)
		if len(killed) == 0 {
			continue
		}
		full[rel].kill(killed)
		if d, ok := next[rel]; ok {
			d.kill(killed)
		}
	}
	return next, nil
}

// derive runs the rules of one group and returns candidate facts not yet in
// the full relation.
func derive(grp *group, full, delta map[string]*relation) ([]Tuple, error) {
	target := full[grp.rel]
	seen := make(map[string]struct{})
	var out []Tuple

	runPlan := func(p *plan) error {
		f := newFrame(full, delta, p.nslots)
		return f.run(p.steps, 0, func() error {
			t := make(Tuple, len(p.head))
			for i, h := range p.head {
				v, ok := h.eval(f.env)
				if !ok {
					return nil
				}
				t[i] = v
			}
			k := t.Key()
			if target.containsKey(k) {
				return nil
			}
			if _, dup := seen[k]; dup {
				return nil
			}
			seen[k] = struct{}{}
			out = append(out, t)
			return nil
		})
	}

	for _, r := range grp.rules {
		if delta == nil {
			if err := runPlan(r.naive); err != nil {
				return nil, err
			}
			continue
		}
		for _, v := range r.variants {
			if d, ok := delta[v.rel]; !ok || d.len() == 0 {
				continue
			}
			if err := runPlan(v.plan); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// subsume returns the keys of facts dominated by another live fact. A fact
// already marked dominated in this pass does not dominate others, so of two
// facts that dominate each other the later one survives.
func subsume(s *compiledSub, full map[string]*relation) map[string]struct{} {
	f := newFrame(full, nil, s.nslots)
	killed := make(map[string]struct{})
	_ = f.run(s.steps, 0, func() error {
		a, b := f.caps[0], f.caps[1]
		ka, kb := a.Key(), b.Key()
		if ka == kb {
			return nil
		}
		if _, gone := killed[kb]; gone {
			return nil
		}
		killed[ka] = struct{}{}
		return nil
	})
	return killed
}

func hasFacts(delta map[string]*relation) bool {
	for _, d := range delta {
		if d.len() > 0 {
			return true
		}
	}
	return false
}
