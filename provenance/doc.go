// Package provenance parses SLSA build provenance into the flat summary the
// fact compiler turns into provenance facts.
//
// [Parse] accepts the three shapes provenance is usually delivered in:
//
//   - a Sigstore bundle whose dsseEnvelope carries the statement,
//   - a bare DSSE envelope with payload type application/vnd.in-toto+json,
//   - an unwrapped in-toto statement.
//
// SLSA provenance v1 and v0.2 predicates are supported. The summary keeps the
// decoded statement bytes so callers can unfold the full document or hand it
// to an expectation validator.
package provenance
