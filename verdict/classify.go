package verdict

import (
	"cmp"
	"slices"

	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/facts"
	"github.com/meigma/trustpolicy/prelude"
)

// Verdict is the outcome of one policy for one target.
type Verdict struct {
	PolicyID string `json:"policy_id"`
	Target   int64  `json:"target"`

	// Component is the target's package URL, if the target is a known
	// component.
	Component string `json:"component,omitempty"`

	Satisfied bool `json:"satisfied"`

	// Messages are the justifications of the Policy facts that satisfied
	// the policy, sorted. Empty messages are dropped.
	Messages []string `json:"messages,omitempty"`
}

// Classification partitions the policy applications of a fact base.
type Classification struct {
	Satisfied []Verdict
	Violated  []Verdict

	// NotApplicable lists known policies with no ApplyPolicyTo facts.
	NotApplicable []string
}

// PolicyIDs returns the policy identifiers written as constants in the heads
// of rules deriving Policy or ApplyPolicyTo, sorted.
func PolicyIDs(rs *datalog.RuleSet) []string {
	var ids []string
	for _, rel := range prelude.OpenRelations {
		for _, v := range rs.HeadConstants(rel, 0) {
			if v.Type() == datalog.TypeSymbol && !slices.Contains(ids, v.Str()) {
				ids = append(ids, v.Str())
			}
		}
	}
	slices.Sort(ids)
	return ids
}

type application struct {
	policy string
	target int64
}

// Classify checks every ApplyPolicyTo fact in fb for a matching Policy fact.
// knownPolicies names policies that should be reported as not applicable
// when nothing applies them; policies mentioned in either relation are
// always known.
func Classify(fb *datalog.FactBase, knownPolicies ...string) *Classification {
	messages := make(map[application][]string)
	known := make(map[string]bool)
	for _, p := range knownPolicies {
		known[p] = true
	}

	for _, t := range fb.Tuples(prelude.RelPolicy) {
		key := application{policy: t[0].Str(), target: t[1].Int()}
		known[key.policy] = true
		msgs := messages[key]
		if msgs == nil {
			msgs = []string{}
		}
		if m := t[2].Str(); m != "" {
			msgs = append(msgs, m)
		}
		messages[key] = msgs
	}

	purls := make(map[int64]string)
	for _, t := range fb.Tuples(facts.RelComponent) {
		purls[t[0].Int()] = t[1].Str()
	}

	c := &Classification{}
	applied := make(map[string]bool)
	for _, t := range fb.Tuples(prelude.RelApplyPolicyTo) {
		key := application{policy: t[0].Str(), target: t[1].Int()}
		known[key.policy] = true
		applied[key.policy] = true

		msgs, ok := messages[key]
		v := Verdict{
			PolicyID:  key.policy,
			Target:    key.target,
			Component: purls[key.target],
			Satisfied: ok,
		}
		if len(msgs) > 0 {
			v.Messages = slices.Clone(msgs)
			slices.Sort(v.Messages)
			v.Messages = slices.Compact(v.Messages)
		}
		if ok {
			c.Satisfied = append(c.Satisfied, v)
		} else {
			c.Violated = append(c.Violated, v)
		}
	}

	for p := range known {
		if !applied[p] {
			c.NotApplicable = append(c.NotApplicable, p)
		}
	}
	slices.Sort(c.NotApplicable)
	slices.SortFunc(c.Satisfied, compareVerdicts)
	slices.SortFunc(c.Violated, compareVerdicts)
	return c
}

func compareVerdicts(a, b Verdict) int {
	if c := cmp.Compare(a.PolicyID, b.PolicyID); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}
