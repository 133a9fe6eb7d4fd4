// Package verdict interprets the policy protocol relations of an evaluated
// fact base and folds the result into a report.
//
// A policy applies to a target when ApplyPolicyTo(policy, target) holds; it
// is satisfied for that target when at least one Policy(policy, target, msg)
// fact exists. [Classify] splits every application into satisfied and
// violated verdicts and lists policies that apply to nothing separately, so
// that "did not run" is never confused with "failed". [Aggregate] turns a
// classification into a [Report] of passed and failed policies with
// per-target justification messages.
package verdict
