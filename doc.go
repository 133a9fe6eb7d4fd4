// Package trustpolicy evaluates supply-chain trust policies over the
// results of a software analysis and emits verifiable verdicts.
//
// A policy is a Datalog program written against a fixed set of extensional
// relations (components, repositories, check results, dependencies,
// provenance and unfolded JSON documents) and a built-in prelude. Policies
// derive facts in two privileged relations: Policy(id, target, message)
// for targets that satisfy a policy, and ApplyPolicyTo(id, target) for
// targets a policy must hold for.
//
// # Quick Start
//
// Load a snapshot and verify a policy:
//
//	snap, err := facts.Load("analysis.json")
//	if err != nil {
//	    return err
//	}
//	e, err := trustpolicy.New(trustpolicy.WithWorkers(4))
//	if err != nil {
//	    return err
//	}
//	res, err := e.Verify(ctx, snap, "policy.dl", policyText)
//	if err != nil {
//	    return err
//	}
//	os.Exit(res.Report.ExitCode())
//
// Emit a verification summary attestation for the result:
//
//	att, err := e.Attest(ctx, res, policyText, time.Now())
//
// # Packages
//
// The pipeline is split across subpackages that can be used on their own:
// [facts] compiles snapshots into fact bases, [datalog] parses and
// evaluates rules, [prelude] holds the built-in relations, [verdict]
// classifies and aggregates policy results and [vsa] emits attestations.
package trustpolicy
