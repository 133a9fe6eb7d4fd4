// Package vsa emits SLSA Verification Summary Attestations for the result
// of a policy evaluation.
//
// [Emit] wraps a [verdict.Report] in an in-toto v1 statement whose predicate
// records the verifier, the supplied verification time, the policy text and
// the overall result. The statement is serialized once and the same bytes
// are used as the DSSE payload and as input to the attestation id, so
// identical inputs yield byte-identical attestations:
//
//	subjects, err := vsa.SubjectsFrom(fb)
//	att, err := vsa.Emit(report, subjects,
//		vsa.WithTimeVerified(ts),
//		vsa.WithPolicy(policyText),
//		vsa.WithSigner(signer),
//	)
//
// Signing is optional. [NewED25519Signer] adapts an ed25519 key to the
// dsse signer interface; [Verify] checks an envelope and decodes its
// statement.
package vsa
