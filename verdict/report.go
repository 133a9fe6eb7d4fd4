package verdict

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Exit statuses of a verification run.
const (
	ExitPassed = 0
	ExitFailed = 1
	ExitError  = 2
)

// Report is the aggregated result of a policy evaluation.
type Report struct {
	// Passed lists policies with no violated application, sorted.
	Passed []string `json:"passed_policies"`

	// Failed lists policies with at least one violated application, sorted.
	Failed []string `json:"failed_policies"`

	// NotApplicable lists policies that were applied to no target.
	NotApplicable []string `json:"not_applicable_policies"`

	// Verdicts holds every application, ordered by policy then target.
	Verdicts []Verdict `json:"verdicts"`
}

// Aggregate folds a classification into a report.
func Aggregate(c *Classification) *Report {
	r := &Report{
		Passed:        []string{},
		Failed:        []string{},
		NotApplicable: slices.Clone(c.NotApplicable),
		Verdicts:      make([]Verdict, 0, len(c.Satisfied)+len(c.Violated)),
	}
	if r.NotApplicable == nil {
		r.NotApplicable = []string{}
	}

	failed := make(map[string]bool)
	for _, v := range c.Violated {
		failed[v.PolicyID] = true
	}
	seen := make(map[string]bool)
	for _, v := range slices.Concat(c.Satisfied, c.Violated) {
		r.Verdicts = append(r.Verdicts, v)
		if seen[v.PolicyID] {
			continue
		}
		seen[v.PolicyID] = true
		if failed[v.PolicyID] {
			r.Failed = append(r.Failed, v.PolicyID)
		} else {
			r.Passed = append(r.Passed, v.PolicyID)
		}
	}
	slices.Sort(r.Passed)
	slices.Sort(r.Failed)
	slices.SortFunc(r.Verdicts, compareVerdicts)
	return r
}

// ExitCode is ExitPassed iff no policy failed.
func (r *Report) ExitCode() int {
	if len(r.Failed) > 0 {
		return ExitFailed
	}
	return ExitPassed
}

// Targets returns the distinct targets of all verdicts, sorted.
func (r *Report) Targets() []int64 {
	var out []int64
	for _, v := range r.Verdicts {
		if !slices.Contains(out, v.Target) {
			out = append(out, v.Target)
		}
	}
	slices.Sort(out)
	return out
}

// Verdict returns the verdict for one application.
func (r *Report) Verdict(policyID string, target int64) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.PolicyID == policyID && v.Target == target {
			return v, true
		}
	}
	return Verdict{}, false
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human-readable summary.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	section := func(title string, ids []string) {
		fmt.Fprintf(&b, "%s (%d)\n", title, len(ids))
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s\n", id)
			for _, v := range r.Verdicts {
				if v.PolicyID != id {
					continue
				}
				status := "violated"
				if v.Satisfied {
					status = "satisfied"
				}
				name := v.Component
				if name == "" {
					name = fmt.Sprintf("target %d", v.Target)
				}
				fmt.Fprintf(&b, "    %s: %s\n", name, status)
				for _, m := range v.Messages {
					fmt.Fprintf(&b, "      %s\n", m)
				}
			}
		}
	}
	section("passed policies", r.Passed)
	section("failed policies", r.Failed)
	if len(r.NotApplicable) > 0 {
		fmt.Fprintf(&b, "not applicable (%d)\n", len(r.NotApplicable))
		for _, id := range r.NotApplicable {
			fmt.Fprintf(&b, "  %s\n", id)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
