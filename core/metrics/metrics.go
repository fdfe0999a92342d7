package metrics

import (
	"time"

	"github.com/kilianp07/batteryctl/core/model"
)

// CycleRecord summarizes one control cycle.
type CycleRecord struct {
	CycleID      string
	Time         time.Time
	Duration     time.Duration
	NetGridPower float64
	DemandWatts  float64
	Direction    string
	AutoID       string
	Devices      int
	Unknown      int
	Skipped      bool
	SkipReason   string
	DryRun       bool
}

// MetricsSink records control cycles for observability purposes.
type MetricsSink interface {
	RecordCycle(rec CycleRecord) error
}

// DecisionRecord is the outcome of one decision in a cycle.
type DecisionRecord struct {
	CycleID       string
	DeviceID      string
	Mode          model.Mode
	SetpointWatts int
	Applied       bool
	Error         string
	Latency       time.Duration
	Time          time.Time
}

// DecisionRecorder records per-device decisions and their command outcome.
type DecisionRecorder interface {
	RecordDecisions(recs []DecisionRecord) error
}

// DeviceStateEvent is a snapshot of a device read during a cycle.
type DeviceStateEvent struct {
	CycleID string
	Status  model.DeviceStatus
	Error   string
	Time    time.Time
}

// DeviceStateRecorder records device snapshots.
type DeviceStateRecorder interface {
	RecordDeviceState(ev DeviceStateEvent) error
}

// MeterEvent captures a grid meter reading.
type MeterEvent struct {
	CycleID   string
	PowerWatt float64
	Error     string
	Time      time.Time
}

// MeterRecorder records meter readings.
type MeterRecorder interface {
	RecordMeter(ev MeterEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleRecord) error            { return nil }
func (NopSink) RecordDecisions([]DecisionRecord) error   { return nil }
func (NopSink) RecordDeviceState(DeviceStateEvent) error { return nil }
func (NopSink) RecordMeter(MeterEvent) error             { return nil }
