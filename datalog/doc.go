// Package datalog implements the rule language and fixed-point evaluator
// used to decide trust policies.
//
// # Rule Language
//
// Programs declare typed relations and derive facts with Horn clauses:
//
//	.decl edge(from: number, to: number)
//	.decl path(from: number, to: number)
//	path(x, y) :- edge(x, y).
//	path(x, z) :- path(x, y), edge(y, z).
//
// Column types are number, symbol, float and bool. Bodies may contain
// negated atoms (!edge(x, y)), comparisons (x < y, p = cat(a, ".", b)),
// the built-in predicates contains and match, one aggregate per literal
// (n = count : { edge(x, _) }, s = sum w : { weight(x, w) }), and universal
// quantification (forall { edge(x, y) => trusted(y) }). A subsumption
// clause removes dominated facts:
//
//	best(x, s) <= best(x, t) :- s < t.
//
// # Analysis
//
// [Parse] turns text into a [Program]; [Analyze] checks it against the
// extensional schema and returns a [RuleSet]. Analysis rejects undeclared
// relations, arity and type mismatches, ungrounded variables, rules that
// extend built-in relations, and negation or aggregation inside a recursive
// cycle. All of these are reported as [*RuleSetError] with a source position
// before any evaluation starts.
//
// # Evaluation
//
// [RuleSet.Evaluate] computes strata bottom-up with semi-naive iteration.
// Relations of one stratum are derived in parallel, and each stratum is
// bounded by [WithMaxIterations]; exceeding it yields a
// [*NonterminationError].
package datalog
