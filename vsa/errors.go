package vsa

import (
	"errors"
	"fmt"
)

// ErrEmission is the sentinel wrapped by every [EmissionError].
var ErrEmission = errors.New("vsa: cannot emit attestation")

// ErrInvalidKey indicates a signing key could not be decoded.
var ErrInvalidKey = errors.New("vsa: invalid signing key")

// ErrVerification indicates an envelope failed verification.
var ErrVerification = errors.New("vsa: envelope verification failed")

// EmissionError reports why an attestation could not be produced. The
// verdicts it was computed from remain valid.
type EmissionError struct {
	// Target is the offending target, or zero when the problem is not
	// specific to one target.
	Target int64

	// Reason describes the problem.
	Reason string
}

func (e *EmissionError) Error() string {
	if e.Target != 0 {
		return fmt.Sprintf("%v: target %d: %s", ErrEmission, e.Target, e.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrEmission, e.Reason)
}

// Unwrap returns ErrEmission.
func (e *EmissionError) Unwrap() error { return ErrEmission }
