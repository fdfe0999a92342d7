package device

import (
	"errors"
	"fmt"
)

// ErrMalformedTelemetry is wrapped by transport errors caused by replies that
// lack mandatory fields.
var ErrMalformedTelemetry = errors.New("malformed telemetry")

// TransportError describes a failed exchange with a device or the meter.
type TransportError struct {
	// Op is the operation that failed, e.g. "ES.GetMode".
	Op string
	// Target is the device id or meter address.
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err for the given operation and target.
func NewTransportError(op, target string, err error) *TransportError {
	return &TransportError{Op: op, Target: target, Err: err}
}

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
