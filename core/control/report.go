package control

import (
	"time"

	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/model"
)

// Skip reasons reported when a cycle applies nothing.
const (
	SkipMeter     = "meter_unavailable"
	SkipMalformed = "malformed_input"
)

// CommandOutcome is the result of applying one decision.
type CommandOutcome struct {
	DeviceID      string     `json:"device_id"`
	Mode          model.Mode `json:"mode"`
	SetpointWatts int        `json:"setpoint_watts"`
	Applied       bool       `json:"applied"`
	Error         string     `json:"error,omitempty"`
	LatencyMillis int64      `json:"latency_ms"`
}

// CycleReport describes everything a cycle observed and did.
type CycleReport struct {
	CycleID        string               `json:"cycle_id"`
	Started        time.Time            `json:"started"`
	DurationMillis int64                `json:"duration_ms"`
	NetGridPower   float64              `json:"net_grid_power_watts"`
	Statuses       []model.DeviceStatus `json:"statuses"`
	Result         allocation.Result    `json:"result"`
	Commands       []CommandOutcome     `json:"commands,omitempty"`
	DryRun         bool                 `json:"dry_run"`
	Skipped        bool                 `json:"skipped"`
	SkipReason     string               `json:"skip_reason,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Unknown returns the number of devices that failed to report.
func (r CycleReport) Unknown() int {
	n := 0
	for _, s := range r.Statuses {
		if !s.Known() {
			n++
		}
	}
	return n
}

// Failed returns the outcomes whose command did not go through.
func (r CycleReport) Failed() []CommandOutcome {
	var out []CommandOutcome
	for _, c := range r.Commands {
		if c.Error != "" {
			out = append(out, c)
		}
	}
	return out
}
