package provenance

import "errors"

// Sentinel errors for provenance parsing.
var (
	// ErrInvalidProvenance indicates the document is not a well-formed
	// in-toto statement, DSSE envelope or Sigstore bundle.
	ErrInvalidProvenance = errors.New("provenance: invalid provenance format")

	// ErrUnsupportedPredicate indicates the statement carries a predicate type
	// other than SLSA provenance.
	ErrUnsupportedPredicate = errors.New("provenance: unsupported predicate type")
)
