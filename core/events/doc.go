// Package events defines the control loop events emitted on the event bus.
//
// Available event types:
//   - StatusEvent: a device status read finished
//   - MeterEvent: the grid meter was read
//   - CycleEvent: a cycle finished or was skipped
package events
