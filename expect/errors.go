package expect

import "errors"

// ErrNoTarget indicates an expectation does not name the component it
// applies to.
var ErrNoTarget = errors.New("expect: expectation has no target")
