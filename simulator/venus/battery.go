package venus

import (
	"math"
	"sync"
	"time"
)

// Battery models a home battery with a symmetric power limit.
type Battery struct {
	CapacityWh float64 // usable capacity
	SoC        float64 // state of charge in percent
	MaxPowerW  float64 // charge and discharge limit
	mu         sync.Mutex
}

// NewBattery returns a 5.12 kWh battery at the given charge.
func NewBattery(soc float64) *Battery {
	return &Battery{CapacityWh: 5120, SoC: soc, MaxPowerW: 2500}
}

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means discharge, negative means charging. It returns the
// power actually delivered after enforcing limits.
func (b *Battery) ApplyPower(powerW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 || powerW == 0 {
		return 0
	}
	p := math.Min(math.Abs(powerW), b.MaxPowerW)
	var avail float64
	if powerW > 0 {
		avail = b.SoC / 100 * b.CapacityWh
	} else {
		avail = (100 - b.SoC) / 100 * b.CapacityWh
	}
	energy := math.Min(p*hours, avail)
	delta := energy / b.CapacityWh * 100
	if powerW > 0 {
		b.SoC -= delta
	} else {
		b.SoC += delta
	}
	b.SoC = math.Max(0, math.Min(100, b.SoC))
	return math.Copysign(energy/hours, powerW)
}

// Level returns the current state of charge rounded to a whole percent, as
// the firmware reports it.
func (b *Battery) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return math.Round(b.SoC)
}
