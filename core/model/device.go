package model

import (
	"fmt"
	"math"
	"strings"
)

// SetpointLimitWatts bounds every manual setpoint sent to a device. It is a
// hardware safety limit and is never relaxed.
const SetpointLimitWatts = 2500

// Mode is the operating mode of a battery inverter.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeAuto
	ModeManual
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "Auto"
	case ModeManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// ParseMode maps a textual mode to a Mode. Matching is case-insensitive.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto
	case "manual":
		return ModeManual
	default:
		return ModeUnknown
	}
}

// MarshalText implements encoding.TextMarshaler so modes render as names in
// JSON reports.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	*m = ParseMode(string(b))
	return nil
}

// DeviceStatus is the normalized state reported by one battery inverter for a
// single control cycle.
type DeviceStatus struct {
	ID             string  `json:"id"`
	ChargeLevel    float64 `json:"charge_level"`    // percent of capacity, [0,100]
	Mode           Mode    `json:"mode"`            // Unknown when the device did not answer
	EffectivePower float64 `json:"effective_power"` // watts, positive charging, negative feeding

	// Efficiency is the round-trip efficiency in (0,1]. Zero is treated as 1.
	Efficiency float64 `json:"efficiency,omitempty"`
}

// Validate checks the structural constraints of a status.
func (s DeviceStatus) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("device id must not be empty")
	}
	if math.IsNaN(s.ChargeLevel) || s.ChargeLevel < 0 || s.ChargeLevel > 100 {
		return fmt.Errorf("device %s: charge level %v outside [0,100]", s.ID, s.ChargeLevel)
	}
	if math.IsNaN(s.EffectivePower) || math.IsInf(s.EffectivePower, 0) {
		return fmt.Errorf("device %s: effective power is not finite", s.ID)
	}
	if math.IsNaN(s.Efficiency) || s.Efficiency < 0 || s.Efficiency > 1 {
		return fmt.Errorf("device %s: efficiency %v outside [0,1]", s.ID, s.Efficiency)
	}
	return nil
}

// Known reports whether the device answered this cycle.
func (s DeviceStatus) Known() bool {
	return s.Mode != ModeUnknown
}

// EfficiencyFactor returns the efficiency used for weighting, treating the
// zero value as neutral.
func (s DeviceStatus) EfficiencyFactor() float64 {
	if s.Efficiency == 0 {
		return 1
	}
	return s.Efficiency
}

// Unknown returns a status marking the device as unreachable for this cycle.
func Unknown(id string) DeviceStatus {
	return DeviceStatus{ID: id, Mode: ModeUnknown}
}

// AllocationDecision is the engine output for one device.
type AllocationDecision struct {
	DeviceID   string `json:"device_id"`
	TargetMode Mode   `json:"target_mode"`
	// SetpointWatts is only meaningful in Manual mode. Positive charges the
	// battery, negative discharges it.
	SetpointWatts int `json:"setpoint_watts"`
}

// ClampSetpoint bounds a setpoint to the safety range.
func ClampSetpoint(w int) int {
	if w > SetpointLimitWatts {
		return SetpointLimitWatts
	}
	if w < -SetpointLimitWatts {
		return -SetpointLimitWatts
	}
	return w
}

// VehicleState is the optional electric-vehicle context supplied with a cycle.
type VehicleState struct {
	Connected bool `json:"connected"`
}
