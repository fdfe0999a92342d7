// Package device declares the contracts between the control loop and the
// hardware it drives: battery inverters and the grid meter.
package device

import (
	"context"

	"github.com/kilianp07/batteryctl/core/model"
)

// StatusProvider reports the normalized state of one battery device.
type StatusProvider interface {
	// Status returns the current status of the device identified by id. A
	// device that cannot be reached returns a *TransportError.
	Status(ctx context.Context, id string) (model.DeviceStatus, error)
}

// Commander applies allocation decisions to devices.
type Commander interface {
	Apply(ctx context.Context, id string, decision model.AllocationDecision) error
}

// MeterReader returns the signed net grid power in watts, positive when
// importing.
type MeterReader interface {
	Read(ctx context.Context) (float64, error)
}

// Fleet bundles status reads and commands, as implemented by a device
// transport.
type Fleet interface {
	StatusProvider
	Commander
}
