package allocation

import "errors"

// ErrMalformedInput is returned when the statuses handed to the engine violate
// its preconditions. It points at a bug upstream of the engine; callers must
// not apply anything for that cycle.
var ErrMalformedInput = errors.New("malformed allocation input")
