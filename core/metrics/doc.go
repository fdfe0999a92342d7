// Package metrics defines the recorder interfaces fed by the control loop.
// A sink implements MetricsSink and any of the optional recorders
// (DecisionRecorder, DeviceStateRecorder, MeterRecorder); callers detect the
// optional ones with a type assertion.
package metrics
