package events

import (
	"time"

	"github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/core/model"
)

// StatusEvent is published for each device status read.
type StatusEvent struct {
	CycleID string
	Status  model.DeviceStatus
	Err     error
	Latency time.Duration
}

// MeterEvent is published once per cycle with the grid reading.
type MeterEvent struct {
	CycleID   string
	PowerWatt float64
	Err       error
}

// CycleEvent is published when a cycle ends, skipped or not.
type CycleEvent struct {
	Cycle     metrics.CycleRecord
	Decisions []metrics.DecisionRecord
}
