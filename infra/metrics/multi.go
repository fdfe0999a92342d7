package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/batteryctl/core/metrics"
)

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the record to all sinks and joins their errors.
func (m *MultiSink) RecordCycle(rec coremetrics.CycleRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordCycle(rec))
	}
	return errors.Join(errs...)
}

// RecordDecisions forwards decisions to the sinks supporting them.
func (m *MultiSink) RecordDecisions(recs []coremetrics.DecisionRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.DecisionRecorder); ok {
			errs = append(errs, r.RecordDecisions(recs))
		}
	}
	return errors.Join(errs...)
}

// RecordDeviceState forwards device snapshots.
func (m *MultiSink) RecordDeviceState(ev coremetrics.DeviceStateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.DeviceStateRecorder); ok {
			errs = append(errs, r.RecordDeviceState(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordMeter forwards meter readings.
func (m *MultiSink) RecordMeter(ev coremetrics.MeterEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.MeterRecorder); ok {
			errs = append(errs, r.RecordMeter(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink holding resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
