package expect

import "context"

// Outcome is the result of validating one candidate against an expectation.
type Outcome uint8

// Validation outcomes.
const (
	// Conforms means the candidate satisfies the expectation.
	Conforms Outcome = iota + 1

	// Violates means the candidate does not satisfy the expectation.
	Violates

	// SchemaInvalid means the expectation itself could not be evaluated.
	SchemaInvalid
)

func (o Outcome) String() string {
	switch o {
	case Conforms:
		return "conforms"
	case Violates:
		return "violates"
	case SchemaInvalid:
		return "schema_invalid"
	default:
		return "unknown"
	}
}

// Passed reports whether the outcome counts as a passing result.
func (o Outcome) Passed() bool { return o == Conforms }

// Validator answers the two questions the fact compiler asks about an
// expectation document. Implementations must be safe for concurrent use.
type Validator interface {
	// ExtractTarget returns the component identifier the expectation
	// targets, or false if it names none.
	ExtractTarget(ctx context.Context, expectation []byte) (string, bool)

	// Validate checks candidate against the expectation.
	Validate(ctx context.Context, expectation, candidate []byte) Outcome
}

// Identifier is implemented by validators whose outcomes are determined by
// their inputs and a stable identity. Reports computed with a validator that
// does not implement it are never cached.
type Identifier interface {
	// Identity names the validator and the configuration its outcomes
	// depend on.
	Identity() string
}
