package trustpolicy

import (
	"github.com/meigma/trustpolicy/datalog"
	"github.com/meigma/trustpolicy/provenance"
	"github.com/meigma/trustpolicy/vsa"
)

// Errors re-exported from datalog.
var (
	// ErrSchema is returned when input facts do not match the extensional schema.
	ErrSchema = datalog.ErrSchema

	// ErrRuleSet is returned when a policy fails to parse or analyze.
	ErrRuleSet = datalog.ErrRuleSet

	// ErrNontermination is returned when a stratum exceeds the iteration cap.
	ErrNontermination = datalog.ErrNontermination
)

// Errors re-exported from vsa.
var (
	// ErrEmission is returned when an attestation cannot be produced.
	ErrEmission = vsa.ErrEmission

	// ErrInvalidKey is returned when a signing key cannot be decoded.
	ErrInvalidKey = vsa.ErrInvalidKey
)

// ErrInvalidProvenance is returned when a provenance document cannot be parsed.
var ErrInvalidProvenance = provenance.ErrInvalidProvenance
