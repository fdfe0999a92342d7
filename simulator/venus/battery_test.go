package venus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatteryApplyPower(t *testing.T) {
	b := &Battery{CapacityWh: 1000, SoC: 50, MaxPowerW: 500}

	got := b.ApplyPower(1000, time.Hour)
	assert.InDelta(t, 500, got, 1e-9, "discharge limited by max power")
	assert.InDelta(t, 0, b.SoC, 1e-9)

	got = b.ApplyPower(-200, time.Hour)
	assert.InDelta(t, -200, got, 1e-9)
	assert.InDelta(t, 20, b.SoC, 1e-9)

	b.SoC = 99
	got = b.ApplyPower(-500, time.Hour)
	assert.InDelta(t, -10, got, 1e-9, "charge limited by headroom")
	assert.InDelta(t, 100, b.SoC, 1e-9)

	assert.Zero(t, b.ApplyPower(100, 0))
}
