package allocation

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/batteryctl/core/model"
)

const (
	vehicleSurplusShare    = 0.85
	vehicleGridChargeWatts = 1400
	vehicleFullSoC         = 90
	vehicleLowSoC          = 20
)

// vehicleIntent estimates the power a connected vehicle is expected to draw
// this cycle. Surplus is mostly left to the vehicle, all of it when the fleet
// is nearly full. Grid charging only happens off-peak and when the fleet is
// not depleted.
func (e *Engine) vehicleIntent(hints Context, net float64, known []model.DeviceStatus) int {
	if hints.Vehicle == nil || !hints.Vehicle.Connected {
		return 0
	}
	charges := make([]float64, len(known))
	for i, d := range known {
		charges[i] = d.ChargeLevel
	}

	if net < 0 {
		if floats.Min(charges) >= vehicleFullSoC {
			return int(math.Round(-net))
		}
		return int(math.Round(-net * vehicleSurplusShare))
	}
	if e.peakHours(hints.Now) {
		return 0
	}
	if floats.Max(charges) > vehicleLowSoC {
		return vehicleGridChargeWatts
	}
	return 0
}

// peakHours reports whether t falls into the weekday peak window. A zero time
// counts as peak so that no grid charging is planned without a clock.
func (e *Engine) peakHours(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= e.cfg.PeakStartHour && t.Hour() < e.cfg.PeakEndHour
}
