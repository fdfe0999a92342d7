package marstek

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/batteryctl/core/device"
	"github.com/kilianp07/batteryctl/core/model"
)

// JSON-RPC methods understood by the device.
const (
	MethodGetMode = "ES.GetMode"
	MethodSetMode = "ES.SetMode"
)

// powerSanityBound drops implausible power readings.
const powerSanityBound = 10000

// Request is a JSON-RPC request datagram.
type Request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Response is a JSON-RPC response datagram.
type Response struct {
	ID     int             `json:"id"`
	Src    string          `json:"src,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// DeviceParams addresses the energy system of a device.
type DeviceParams struct {
	ID int `json:"id"`
}

// ModeResult is the result of ES.GetMode.
type ModeResult struct {
	ID           int      `json:"id"`
	Mode         string   `json:"mode,omitempty"`
	OngridPower  *float64 `json:"ongrid_power,omitempty"`
	OffgridPower *float64 `json:"offgrid_power,omitempty"`
	BatSoC       *float64 `json:"bat_soc,omitempty"`
}

// SetModeParams are the parameters of ES.SetMode.
type SetModeParams struct {
	ID     int        `json:"id"`
	Config ModeConfig `json:"config"`
}

// ModeConfig selects the operating mode.
type ModeConfig struct {
	Mode      string     `json:"mode"`
	AutoCfg   *AutoCfg   `json:"auto_cfg,omitempty"`
	ManualCfg *ManualCfg `json:"manual_cfg,omitempty"`
}

// AutoCfg enables self-regulation.
type AutoCfg struct {
	Enable int `json:"enable"`
}

// ManualCfg is a single all-week time slot holding a fixed power.
type ManualCfg struct {
	TimeNum   int    `json:"time_num"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	WeekSet   int    `json:"week_set"`
	Power     int    `json:"power"`
	Enable    int    `json:"enable"`
}

// SetModeResult is the result of ES.SetMode.
type SetModeResult struct {
	ID        int   `json:"id"`
	SetResult *bool `json:"set_result,omitempty"`
}

// setModeParams builds the ES.SetMode parameters for a decision. The
// setpoint is clamped again. manual_cfg.power shares the decision sign:
// negative discharges, positive charges.
func setModeParams(d model.AllocationDecision) SetModeParams {
	if d.TargetMode == model.ModeAuto {
		return SetModeParams{Config: ModeConfig{Mode: model.ModeAuto.String(), AutoCfg: &AutoCfg{Enable: 1}}}
	}
	power := model.ClampSetpoint(d.SetpointWatts)
	return SetModeParams{Config: ModeConfig{
		Mode: model.ModeManual.String(),
		ManualCfg: &ManualCfg{
			TimeNum:   1,
			StartTime: "00:00",
			EndTime:   "23:59",
			WeekSet:   127,
			Power:     power,
			Enable:    1,
		},
	}}
}

// Status normalizes the reply into a DeviceStatus. Power values beyond the
// sanity bound are ignored and the off-grid reading wins when non-zero.
func (r ModeResult) Status(id string) (model.DeviceStatus, error) {
	if r.BatSoC == nil {
		return model.DeviceStatus{}, fmt.Errorf("%w: missing bat_soc", device.ErrMalformedTelemetry)
	}
	mode := model.ModeAuto
	if r.Mode != "" {
		if mode = model.ParseMode(r.Mode); mode == model.ModeUnknown {
			mode = model.ModeManual
		}
	}
	power := sanePower(r.OffgridPower)
	if power == 0 {
		power = sanePower(r.OngridPower)
	}
	if power != 0 {
		power = -power
	}
	st := model.DeviceStatus{ID: id, ChargeLevel: *r.BatSoC, Mode: mode, EffectivePower: power}
	if err := st.Validate(); err != nil {
		return model.DeviceStatus{}, fmt.Errorf("%w: %v", device.ErrMalformedTelemetry, err)
	}
	return st, nil
}

func sanePower(p *float64) float64 {
	if p == nil || *p > powerSanityBound || *p < -powerSanityBound {
		return 0
	}
	return *p
}
