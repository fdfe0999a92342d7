package allocation

import (
	"fmt"

	"github.com/kilianp07/batteryctl/core/model"
)

// Config holds the tunables of the allocation engine.
type Config struct {
	// DeadbandWatts is the demand magnitude treated as balanced.
	DeadbandWatts float64 `json:"deadband_watts"`
	// MinDischargeSoC is the charge level a device must exceed to discharge.
	MinDischargeSoC float64 `json:"min_discharge_soc"`
	// MaxChargeSoC is the charge level a device must stay below to charge.
	MaxChargeSoC float64 `json:"max_charge_soc"`
	// AutoChargeSoC is the charge level a device must stay below to take the
	// Auto role while the fleet charges. Devices between it and MaxChargeSoC
	// still absorb power in Manual.
	AutoChargeSoC float64 `json:"auto_charge_soc"`
	// DeviceMaxWatts is the power rating of a single device.
	DeviceMaxWatts float64 `json:"device_max_watts"`
	// SoloThresholdWatts is the demand the Auto device handles on its own
	// when it has no power headroom left. Half of the larger remaining
	// headroom of the Auto device and the previous Auto device is added.
	SoloThresholdWatts float64 `json:"solo_threshold_watts"`
	// RetainMargin is the score gap within which the previous Auto device
	// keeps its role.
	RetainMargin float64 `json:"retain_margin"`
	// MinSetpointWatts drops manual setpoints smaller than this to zero.
	MinSetpointWatts int `json:"min_setpoint_watts"`
	// PeakStartHour and PeakEndHour delimit the weekday peak tariff window.
	PeakStartHour int `json:"peak_start_hour"`
	PeakEndHour   int `json:"peak_end_hour"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DeadbandWatts:      100,
		MinDischargeSoC:    20,
		MaxChargeSoC:       100,
		AutoChargeSoC:      95,
		DeviceMaxWatts:     model.SetpointLimitWatts,
		SoloThresholdWatts: 1500,
		RetainMargin:       5,
		MinSetpointWatts:   300,
		PeakStartHour:      7,
		PeakEndHour:        22,
	}
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.DeadbandWatts < 0 {
		return fmt.Errorf("deadband_watts must not be negative")
	}
	if c.MinDischargeSoC < 0 || c.MaxChargeSoC > 100 || c.MinDischargeSoC >= c.MaxChargeSoC {
		return fmt.Errorf("soc limits must satisfy 0 <= min_discharge_soc < max_charge_soc <= 100")
	}
	if c.AutoChargeSoC <= c.MinDischargeSoC || c.AutoChargeSoC > c.MaxChargeSoC {
		return fmt.Errorf("auto_charge_soc must be in (min_discharge_soc, max_charge_soc]")
	}
	if c.DeviceMaxWatts <= 0 || c.DeviceMaxWatts > model.SetpointLimitWatts {
		return fmt.Errorf("device_max_watts must be in (0,%d]", model.SetpointLimitWatts)
	}
	if c.SoloThresholdWatts < 0 || c.RetainMargin < 0 || c.MinSetpointWatts < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if c.PeakStartHour < 0 || c.PeakEndHour > 24 || c.PeakStartHour > c.PeakEndHour {
		return fmt.Errorf("peak window must satisfy 0 <= start <= end <= 24")
	}
	return nil
}
