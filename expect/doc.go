// Package expect defines the structural expectation oracle consulted by the
// fact compiler, and ships an implementation backed by OPA Rego.
//
// An expectation is a document in some schema language that both names the
// component it targets and constrains the provenance statements of that
// component. The fact compiler only needs two questions answered, so the
// [Validator] interface is deliberately small:
//
//   - ExtractTarget: which component does this expectation apply to?
//   - Validate: does a candidate statement conform?
//
// # Rego Expectations
//
// [RegoValidator] treats the expectation as a Rego module in package
// "expectation". The module names its target with a string rule and decides
// conformance with allow and deny rules, evaluated with the decoded
// statement as input:
//
//	package expectation
//
//	target := "pkg:npm/left-pad@1.3.0"
//
//	default allow := false
//
//	allow if {
//	    input.predicate.runDetails.builder.id == "https://github.com/actions/runner"
//	}
//
// A module that does not compile, or does not produce a usable result, is
// reported as [SchemaInvalid] rather than as an error.
package expect
